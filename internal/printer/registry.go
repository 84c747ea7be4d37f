package printer

import (
	"context"
	"sync"

	"github.com/italolelis/print_agent/internal/logctx"
)

// SelectionStore persists the selected printer name.
type SelectionStore interface {
	SaveSelectedPrinter(name string) error
}

// SelectionChange is emitted after the selected printer changes.
type SelectionChange struct {
	Name        string
	DisplayName string
	// Auto is true when the registry picked the printer itself after a refresh.
	// Auto selections are not announced to the user.
	Auto bool
}

// Registry holds the last discovery snapshot and the selected printer. Every method
// is safe for concurrent use and each mutation is applied atomically.
type Registry struct {
	mu        sync.RWMutex
	printers  []Printer
	selected  string
	store     SelectionStore
	listeners []func(context.Context, SelectionChange)
}

// NewRegistry creates an empty registry. selected is the persisted selection, if any;
// store may be nil.
func NewRegistry(store SelectionStore, selected string) *Registry {
	return &Registry{
		store:    store,
		selected: selected,
	}
}

// OnSelectionChanged registers fn to be called after every selection change. fn runs
// on the caller's goroutine outside the registry lock and must not block.
func (r *Registry) OnSelectionChanged(fn func(context.Context, SelectionChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
}

// List returns a copy of the current snapshot. It never triggers discovery.
func (r *Registry) List() []Printer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Printer, len(r.printers))
	copy(out, r.printers)

	return out
}

// Selected returns the selected printer name or "".
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.selected
}

// Lookup finds a printer by its name.
func (r *Registry) Lookup(name string) (Printer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.printers {
		if p.Name == name {
			return p, true
		}
	}

	return Printer{}, false
}

// DisplayNameOf resolves a label for name. The first printer whose Name or
// DisplayName equals name wins; unknown names are echoed back and an empty name
// yields NotSelected.
func (r *Registry) DisplayNameOf(name string) string {
	if name == "" {
		return NotSelected
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.displayNameLocked(name)
}

func (r *Registry) displayNameLocked(name string) string {
	for _, p := range r.printers {
		if p.Name == name || p.DisplayName == name {
			return p.Label()
		}
	}

	return name
}

// Select makes name the selected printer. Empty names and the already selected name
// are no-ops: nothing is persisted and no change is emitted. Existence of name in
// the snapshot is the caller's concern. It reports whether the selection changed.
func (r *Registry) Select(ctx context.Context, name string, persist bool) bool {
	change, ok := r.trySelect(ctx, name, persist)
	if !ok {
		return false
	}

	r.emit(ctx, change)

	return true
}

func (r *Registry) trySelect(ctx context.Context, name string, persist bool) (SelectionChange, bool) {
	if name == "" {
		return SelectionChange{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.selected == name {
		return SelectionChange{}, false
	}

	r.selected = name

	if persist {
		r.persistLocked(ctx, name)
	}

	return SelectionChange{Name: name, DisplayName: r.displayNameLocked(name)}, true
}

// Replace swaps the snapshot wholesale. When nothing is selected and the new list
// is not empty, the OS default printer (or the first entry) is selected and
// persisted silently.
func (r *Registry) Replace(ctx context.Context, printers []Printer) {
	next := normalize(printers)

	var (
		change  SelectionChange
		changed bool
	)

	r.mu.Lock()
	r.printers = next

	if r.selected == "" {
		if p, ok := pickDefault(next); ok {
			r.selected = p.Name
			r.persistLocked(ctx, p.Name)

			change = SelectionChange{Name: p.Name, DisplayName: p.Label(), Auto: true}
			changed = true

			logctx.LoggerFromContext(ctx).InfoContext(ctx, "printer auto-selected", "printer", p.Name, "default", p.IsDefault)
		}
	}
	r.mu.Unlock()

	if changed {
		r.emit(ctx, change)
	}
}

func (r *Registry) persistLocked(ctx context.Context, name string) {
	if r.store == nil {
		return
	}

	if err := r.store.SaveSelectedPrinter(name); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to persist selected printer", "printer", name, "err", err)
	}
}

func (r *Registry) emit(ctx context.Context, change SelectionChange) {
	r.mu.RLock()
	listeners := make([]func(context.Context, SelectionChange), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, change)
	}
}

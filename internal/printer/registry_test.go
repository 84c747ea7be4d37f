package printer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (s *fakeStore) SaveSelectedPrinter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saved = append(s.saved, name)

	return s.err
}

func (s *fakeStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.saved...)
}

func TestRegistry_SelectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	reg := NewRegistry(store, "")

	var changes []SelectionChange
	reg.OnSelectionChanged(func(_ context.Context, c SelectionChange) { changes = append(changes, c) })

	assert.True(t, reg.Select(ctx, "Office", true))
	assert.False(t, reg.Select(ctx, "Office", true))

	assert.Equal(t, "Office", reg.Selected())
	assert.Equal(t, []string{"Office"}, store.calls())
	require.Len(t, changes, 1)
	assert.Equal(t, "Office", changes[0].Name)
	assert.False(t, changes[0].Auto)
}

func TestRegistry_SelectEmptyIsNoop(t *testing.T) {
	store := &fakeStore{}
	reg := NewRegistry(store, "Label")

	assert.False(t, reg.Select(context.Background(), "", true))
	assert.Equal(t, "Label", reg.Selected())
	assert.Empty(t, store.calls())
}

func TestRegistry_SelectWithoutPersist(t *testing.T) {
	store := &fakeStore{}
	reg := NewRegistry(store, "")

	assert.True(t, reg.Select(context.Background(), "Office", false))
	assert.Empty(t, store.calls())
}

func TestRegistry_PersistFailureKeepsSelection(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	reg := NewRegistry(store, "")

	assert.True(t, reg.Select(context.Background(), "Office", true))
	assert.Equal(t, "Office", reg.Selected())
}

func TestRegistry_ReplaceAutoSelects(t *testing.T) {
	tests := []struct {
		name     string
		selected string
		printers []Printer
		want     string
		autoSeen bool
	}{
		{
			name:     "prefers OS default",
			printers: []Printer{{Name: "A"}, {Name: "B", IsDefault: true}},
			want:     "B",
			autoSeen: true,
		},
		{
			name:     "falls back to first entry",
			printers: []Printer{{Name: "A"}, {Name: "B"}},
			want:     "A",
			autoSeen: true,
		},
		{
			name:     "keeps existing selection",
			selected: "C",
			printers: []Printer{{Name: "A", IsDefault: true}},
			want:     "C",
		},
		{
			name: "empty list selects nothing",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			reg := NewRegistry(store, tt.selected)

			var changes []SelectionChange
			reg.OnSelectionChanged(func(_ context.Context, c SelectionChange) { changes = append(changes, c) })

			reg.Replace(context.Background(), tt.printers)

			assert.Equal(t, tt.want, reg.Selected())

			if tt.autoSeen {
				require.Len(t, changes, 1)
				assert.True(t, changes[0].Auto)
				assert.Equal(t, []string{tt.want}, store.calls())
			} else {
				assert.Empty(t, changes)
				assert.Empty(t, store.calls())
			}
		})
	}
}

func TestRegistry_ReplaceFillsDisplayName(t *testing.T) {
	reg := NewRegistry(nil, "")
	reg.Replace(context.Background(), []Printer{{Name: "raw_queue"}, {Name: "hp", DisplayName: "HP LaserJet"}})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "raw_queue", list[0].DisplayName)
	assert.Equal(t, "HP LaserJet", list[1].DisplayName)
}

func TestRegistry_ListReturnsCopy(t *testing.T) {
	reg := NewRegistry(nil, "")
	reg.Replace(context.Background(), []Printer{{Name: "A"}})

	list := reg.List()
	list[0].Name = "mutated"

	assert.Equal(t, "A", reg.List()[0].Name)
}

func TestRegistry_DisplayNameOf(t *testing.T) {
	reg := NewRegistry(nil, "x")
	reg.Replace(context.Background(), []Printer{
		{Name: "hp", DisplayName: "HP LaserJet"},
		{Name: "zebra"},
		{Name: "dup", DisplayName: "hp"},
	})

	assert.Equal(t, NotSelected, reg.DisplayNameOf(""))
	assert.Equal(t, "HP LaserJet", reg.DisplayNameOf("hp"), "first match wins")
	assert.Equal(t, "HP LaserJet", reg.DisplayNameOf("HP LaserJet"))
	assert.Equal(t, "zebra", reg.DisplayNameOf("zebra"))
	assert.Equal(t, "Ghost", reg.DisplayNameOf("Ghost"))
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(nil, "")
	reg.Replace(context.Background(), []Printer{{Name: "A", Status: "idle"}})

	p, ok := reg.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "idle", p.Status)

	_, ok = reg.Lookup("B")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(&fakeStore{}, "")

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(3)

		go func() {
			defer wg.Done()
			reg.Replace(ctx, []Printer{{Name: "A"}, {Name: "B"}})
		}()

		go func() {
			defer wg.Done()
			reg.Select(ctx, "B", true)
		}()

		go func() {
			defer wg.Done()
			_ = reg.List()
			_ = reg.DisplayNameOf(reg.Selected())
		}()
	}

	wg.Wait()

	assert.Len(t, reg.List(), 2)
	assert.NotEmpty(t, reg.Selected())
}

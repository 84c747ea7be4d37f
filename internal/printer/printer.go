// Package printer keeps the agent's view of the installed printers: the last
// discovery snapshot and the selected printer.
package printer

// NotSelected is the display label used when no printer is selected.
const NotSelected = "Not selected"

// Printer is a read-only snapshot of one printer as reported by the OS.
type Printer struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Status      string `json:"status"`
	IsDefault   bool   `json:"isDefault"`
}

// Label returns the human-readable name, falling back to Name.
func (p Printer) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}

	return p.Name
}

// normalize fills DisplayName so API consumers always get a label.
func normalize(printers []Printer) []Printer {
	out := make([]Printer, len(printers))

	for i, p := range printers {
		p.DisplayName = p.Label()
		out[i] = p
	}

	return out
}

// pickDefault returns the OS default printer, or the first entry.
func pickDefault(printers []Printer) (Printer, bool) {
	if len(printers) == 0 {
		return Printer{}, false
	}

	for _, p := range printers {
		if p.IsDefault {
			return p, true
		}
	}

	return printers[0], true
}

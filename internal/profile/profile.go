// Package profile stores named shortcut grids as sealed JSON documents.
package profile

import (
	"fmt"

	"github.com/mil-ad/streampad/internal/hid"
)

// Grid dimensions of the shortcut pad.
const (
	GridColumns = 5
	GridRows    = 7
	GridSize    = GridColumns * GridRows
)

// DefaultName is the profile that always exists and cannot be deleted or
// renamed.
const DefaultName = "default"

// Category groups shortcuts for display.
type Category string

const (
	CategoryCopyPaste  Category = "COPY_PASTE"
	CategoryEdit       Category = "EDIT"
	CategoryNavigation Category = "NAVIGATION"
	CategoryCustom     Category = "CUSTOM"
)

// Categories lists every known category.
var Categories = []Category{CategoryCopyPaste, CategoryEdit, CategoryNavigation, CategoryCustom}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Shortcut is one slot of the grid.
type Shortcut struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Modifier    uint8    `json:"modifier"`
	KeyCode     uint8    `json:"keyCode"`
	Category    Category `json:"category"`
	IsEmpty     bool     `json:"isEmpty"`
}

// Empty returns an unassigned slot.
func Empty() Shortcut {
	return Shortcut{Category: CategoryCustom, IsEmpty: true}
}

// Event returns the key the shortcut sends.
func (s Shortcut) Event() hid.KeyEvent {
	return hid.KeyEvent{Modifier: s.Modifier, KeyCode: s.KeyCode}
}

// Profile is the persisted document.
type Profile struct {
	Name      string     `json:"name"`
	Shortcuts []Shortcut `json:"shortcuts"`
}

// Validate checks categories. Slot count is not limited; see Grid.
func (p *Profile) Validate() error {
	for i, s := range p.Shortcuts {
		if !s.Category.Valid() {
			return fmt.Errorf("%w: shortcut %d: unknown category %q", ErrInvalidProfile, i, s.Category)
		}
	}
	return nil
}

// Slot returns the shortcut at index i of the padded grid.
func (p *Profile) Slot(i int) (Shortcut, error) {
	if i < 0 || i >= GridSize {
		return Shortcut{}, fmt.Errorf("slot %d out of range [0, %d)", i, GridSize)
	}
	return Grid(p.Shortcuts)[i], nil
}

// Grid pads or truncates shortcuts to exactly GridSize slots.
func Grid(shortcuts []Shortcut) []Shortcut {
	out := make([]Shortcut, GridSize)
	n := copy(out, shortcuts)
	for i := n; i < GridSize; i++ {
		out[i] = Empty()
	}
	return out
}

// DefaultShortcuts is the layout of a fresh default profile.
func DefaultShortcuts() []Shortcut {
	edit := func(label, desc string, mod, key uint8) Shortcut {
		return Shortcut{Label: label, Description: desc, Modifier: mod, KeyCode: key, Category: CategoryEdit}
	}
	clip := func(label, desc string, mod, key uint8) Shortcut {
		return Shortcut{Label: label, Description: desc, Modifier: mod, KeyCode: key, Category: CategoryCopyPaste}
	}
	nav := func(label, desc string, key uint8) Shortcut {
		return Shortcut{Label: label, Description: desc, KeyCode: key, Category: CategoryNavigation}
	}
	e := Empty()

	return Grid([]Shortcut{
		// Row 1 reserved.
		e, e, e, e, e,

		edit("Ctrl+Z", "Undo", hid.ModLeftCtrl, hid.KeyZ),
		edit("Ctrl+Y", "Redo", hid.ModLeftCtrl, hid.KeyY),
		edit("F2", "Edit", hid.ModNone, hid.KeyF2),
		e, e,

		clip("Ctrl+C", "Copy", hid.ModLeftCtrl, hid.KeyC),
		clip("Ctrl+V", "Paste", hid.ModLeftCtrl, hid.KeyV),
		clip("Ctrl+X", "Cut", hid.ModLeftCtrl, hid.KeyX),
		clip("Win+V", "Clipboard history", hid.ModLeftGUI, hid.KeyV),
		e,

		nav("←", "Left", hid.KeyLeft),
		nav("↑", "Up", hid.KeyUp),
		nav("↓", "Down", hid.KeyDown),
		nav("→", "Right", hid.KeyRight),
		e,
	})
}

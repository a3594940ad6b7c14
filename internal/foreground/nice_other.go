//go:build !linux && !darwin

package foreground

import "errors"

var errNoNice = errors.New("process priority is not adjustable on this platform")

// NiceElevator is unavailable here; both calls fail and the policy keeps
// running at the base priority.
type NiceElevator struct {
	Boost int
	Base  int
}

func NewNiceElevator(boost int, base *int) NiceElevator {
	e := NiceElevator{Boost: boost}
	if base != nil {
		e.Base = *base
	}
	return e
}

func CurrentNice() (int, error) { return 0, errNoNice }

func (e NiceElevator) Promote() error { return errNoNice }
func (e NiceElevator) Demote() error { return errNoNice }

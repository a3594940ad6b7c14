//go:build linux || darwin

package foreground

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// NiceElevator moves the whole process between two nice values. Lowering the
// nice value below zero needs CAP_SYS_NICE; without it Promote fails and the
// policy keeps running at the base priority.
type NiceElevator struct {
	Boost int // nice value while elevated, e.g. -5
	Base  int // nice value otherwise
}

// NewNiceElevator returns an elevator that boosts to boost. A nil base
// restores the nice value the process has now.
func NewNiceElevator(boost int, base *int) NiceElevator {
	e := NiceElevator{Boost: boost}
	if base != nil {
		e.Base = *base
	} else if cur, err := CurrentNice(); err == nil {
		e.Base = cur
	}
	return e
}

// CurrentNice returns the nice value of the calling process.
func CurrentNice() (int, error) {
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("getpriority: %w", err)
	}
	// The raw Linux syscall reports 20 - nice.
	if runtime.GOOS == "linux" {
		prio = 20 - prio
	}
	return prio, nil
}

func (e NiceElevator) Promote() error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, e.Boost); err != nil {
		return fmt.Errorf("setpriority %d: %w", e.Boost, err)
	}
	return nil
}

func (e NiceElevator) Demote() error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, e.Base); err != nil {
		return fmt.Errorf("setpriority %d: %w", e.Base, err)
	}
	return nil
}

package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches. A nil view never pauses.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a fixed set of paused module names, loaded from config.
type StaticPauses map[string]bool

func (p StaticPauses) IsPaused(module string) bool { return p[module] }

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

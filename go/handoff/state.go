package handoff

import (
	"fmt"
)

type State int

const (
	Idle State = iota
	Resetting
	AwaitingEntry
	Transferring
	AwaitingExit
	Measuring
	Teardown
	Done
	Failed
)

var stateNames = []string{
	"Idle",
	"Resetting",
	"AwaitingEntry",
	"Transferring",
	"AwaitingExit",
	"Measuring",
	"Teardown",
	"Done",
	"Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

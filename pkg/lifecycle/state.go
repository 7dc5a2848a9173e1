package lifecycle

import (
	"fmt"
	"time"
)

// State is the lifecycle phase. A lifecycle moves through the states in order
// and never goes back:
//
//	Idle -> Starting -> Started -> ShuttingDown -> Shutdown
//
// Starting may skip Started when a component fails or Shutdown is requested
// mid-startup, and Idle may go straight to Shutdown when nothing was started.
type State uint8

const (
	// Idle is the initial state. Components may only be registered while idle.
	Idle State = iota
	// Starting means the forward pass is running.
	Starting
	// Started means every component in the snapshot started successfully.
	Started
	// ShuttingDown means the reverse pass is running or about to run.
	ShuttingDown
	// Shutdown is terminal. The completion barrier is released on entry.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case ShuttingDown:
		return "shuttingDown"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

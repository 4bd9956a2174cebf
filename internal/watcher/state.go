package watcher

import (
	"time"

	"coursemail-engine/internal/materialize"
)

type State int32

// A watcher that was never started reports Stopped.
const (
	Stopped State = iota
	Idle
	Checking
	Reconnecting
)

var allStates = []State{Stopped, Idle, Checking, Reconnecting}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Reconnecting:
		return "reconnecting"
	default:
		return "stopped"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time snapshot of one watcher.
type Status struct {
	AccountID       string `json:"accountId"`
	State           State  `json:"state"`
	Running         bool   `json:"running"`
	Processing      bool   `json:"processing"`
	IntervalMinutes int    `json:"intervalMinutes"`
	AutoProcess     bool   `json:"autoProcess"`

	LastRunAt time.Time `json:"lastRunAt"`
	LastOkAt  time.Time `json:"lastOkAt"`
	LastError string    `json:"lastError,omitempty"`

	LastResult     materialize.Result `json:"lastResult"`
	TotalProcessed int                `json:"totalProcessed"`
	TotalCreated   int                `json:"totalCreated"`
	Passes         int                `json:"passes"`
}

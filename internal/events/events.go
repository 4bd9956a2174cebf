package events

import (
	"encoding/json"
	"time"
)

// Event types published by the watcher.
const (
	PassStarted   = "pass_started"
	PassCompleted = "pass_completed"
	PassFailed    = "pass_failed"
	PassSkipped   = "pass_skipped"
	StateChanged  = "state_changed"
	CourseAdded   = "course_added"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	Account   string          `json:"account,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent renders one SSE payload line.
func MakeEvent(account, typ string, data any) string {
	return makeEvent("", account, typ, data)
}

// MakeRequestEvent is MakeEvent for events caused by an HTTP request.
func MakeRequestEvent(reqID, account, typ string, data any) string {
	return makeEvent(reqID, account, typ, data)
}

func makeEvent(reqID, account, typ string, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   1,
		At:        time.Now().UTC(),
		Account:   account,
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

package types

import "time"

// Session is one recorded orchestrator run.
type Session struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero while the session is open or when it never closed.
	EndedAt  time.Time `json:"ended_at"`
	ExitCode int       `json:"exit_code"`
	Error    string    `json:"error,omitempty"`
	// Transitions in the order they happened.
	Transitions []Transition `json:"transitions"`
}

// Transition is one state change within a Session.
type Transition struct {
	Seq    int       `json:"seq"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

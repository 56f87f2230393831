package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: not ready
	Error string `json:"error" example:"not ready"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// ProcessStatus summarizes one managed process for /status.
type ProcessStatus struct {
	// Logical process name.
	// example: ollama
	Name string `json:"name" example:"ollama"`
	// Operating system process id.
	// example: 12345
	PID int `json:"pid" example:"12345"`
	// Launch time (unix seconds).
	StartedAt int64 `json:"started_at_unix" example:"1700000000"`
	// Whether the process was alive when the snapshot was taken.
	Alive bool `json:"alive" example:"true"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Current orchestrator state.
	// example: running
	State string `json:"state" example:"running"`
	// Time the current state was entered (unix seconds).
	StateSince int64 `json:"state_since_unix" example:"1700000000"`
	// Model served by the dependency runtime.
	// example: llama3
	Model string `json:"model,omitempty" example:"llama3"`
	// Managed processes in launch order.
	Processes []ProcessStatus `json:"processes"`
	// Session id, when history is enabled.
	Session string `json:"session,omitempty"`
	// Last fatal error, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the orchestrator in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

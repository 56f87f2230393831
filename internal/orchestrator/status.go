package orchestrator

import (
	"time"

	"voiceboot/pkg/types"
)

// ProcessInfo is a read-only view of one managed process.
type ProcessInfo struct {
	Name      string
	PID       int
	StartedAt time.Time
	Alive     bool
}

// Snapshot is a read-only projection of the orchestrator state.
type Snapshot struct {
	State     State
	Since     time.Time
	Model     string
	Processes []ProcessInfo
	Err       string
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Ready reports whether the foreground server is up and supervised.
func (o *Orchestrator) Ready() bool { return o.State() == StateRunning }

// Err returns the fatal error that ended the session, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Snapshot returns a read-only view of the orchestrator state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{State: o.state, Since: o.since, Model: o.cfg.Model}
	if o.lastErr != nil {
		s.Err = o.lastErr.Error()
	}
	s.Processes = make([]ProcessInfo, 0, len(o.procs))
	for _, h := range o.procs {
		s.Processes = append(s.Processes, ProcessInfo{
			Name:      h.Name(),
			PID:       h.PID(),
			StartedAt: h.StartedAt(),
			Alive:     h.Alive(),
		})
	}
	return s
}

// Status builds the /status response.
func (o *Orchestrator) Status() types.StatusResponse {
	snap := o.Snapshot()
	now := o.clk.Now()
	o.mu.Lock()
	started := o.startedAt
	o.mu.Unlock()

	resp := types.StatusResponse{
		State:          string(snap.State),
		StateSince:     snap.Since.Unix(),
		Model:          snap.Model,
		Session:        o.session,
		LastError:      snap.Err,
		ServerTimeUnix: now.Unix(),
	}
	if !started.IsZero() {
		resp.UptimeSeconds = int64(now.Sub(started) / time.Second)
	}
	resp.Processes = make([]types.ProcessStatus, 0, len(snap.Processes))
	for _, p := range snap.Processes {
		resp.Processes = append(resp.Processes, types.ProcessStatus{
			Name:      p.Name,
			PID:       p.PID,
			StartedAt: p.StartedAt.Unix(),
			Alive:     p.Alive,
		})
	}
	return resp
}

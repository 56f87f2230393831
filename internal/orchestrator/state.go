package orchestrator

// State is a bring-up lifecycle state.
type State string

const (
	StateIdle                State = "idle"
	StateProvisioning        State = "provisioning"
	StateWaitingOnDependency State = "waiting_on_dependency"
	StateStarting            State = "starting"
	StateRunning             State = "running"
	StateShuttingDown        State = "shutting_down"
	StateStopped             State = "stopped"
)

// States lists every state in lifecycle order.
var States = []State{
	StateIdle,
	StateProvisioning,
	StateWaitingOnDependency,
	StateStarting,
	StateRunning,
	StateShuttingDown,
	StateStopped,
}

// Every state except Stopped may fall through to ShuttingDown, so processes
// launched before a fatal error are still terminated.
var transitions = map[State][]State{
	StateIdle:                {StateProvisioning, StateShuttingDown},
	StateProvisioning:        {StateWaitingOnDependency, StateShuttingDown},
	StateWaitingOnDependency: {StateStarting, StateShuttingDown},
	StateStarting:            {StateRunning, StateShuttingDown},
	StateRunning:             {StateShuttingDown},
	StateShuttingDown:        {StateStopped},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func stateNames() []string {
	out := make([]string, len(States))
	for i, s := range States {
		out[i] = string(s)
	}
	return out
}

package hypervisor

import "fmt"

// State is a domain state as reported by libvirt (VIR_DOMAIN_*).
type State int32

const (
	StateNoState     State = 0
	StateRunning     State = 1
	StateBlocked     State = 2
	StatePaused      State = 3
	StateShutdown    State = 4
	StateShutoff     State = 5
	StateCrashed     State = 6
	StatePMSuspended State = 7
)

// String returns the human-readable state text.
func (s State) String() string {
	switch s {
	case StateNoState:
		return "No state"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StatePaused:
		return "Paused"
	case StateShutdown:
		return "Shut down"
	case StateShutoff:
		return "Shut off"
	case StateCrashed:
		return "Crashed"
	case StatePMSuspended:
		return "Suspended by power management"
	default:
		return fmt.Sprintf("Unknown (%d)", int32(s))
	}
}

// IsActive reports whether the domain is consuming host resources.
func (s State) IsActive() bool {
	switch s {
	case StateRunning, StateBlocked, StatePaused, StateShutdown, StatePMSuspended:
		return true
	default:
		return false
	}
}

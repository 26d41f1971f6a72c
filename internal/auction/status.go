package auction

type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionClosed    SessionStatus = "CLOSED"
	SessionSettled   SessionStatus = "SETTLED"
)

var validNext = map[SessionStatus]map[SessionStatus]bool{
	SessionScheduled: {SessionActive: true},
	SessionActive:    {SessionClosed: true},
	SessionClosed:    {SessionSettled: true},
	SessionSettled:   {},
}

// CanTransition reports whether from -> to is a single forward step.
func CanTransition(from, to SessionStatus) bool {
	return validNext[from][to]
}

// rank orders statuses along the lifecycle.
func (s SessionStatus) rank() int {
	switch s {
	case SessionScheduled:
		return 0
	case SessionActive:
		return 1
	case SessionClosed:
		return 2
	case SessionSettled:
		return 3
	}
	return -1
}

// Before reports whether s comes earlier in the lifecycle than o.
func (s SessionStatus) Before(o SessionStatus) bool { return s.rank() < o.rank() }

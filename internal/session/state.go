package session

// State is the turn-taking state of a call
type State int32

const (
	StateInitiating State = iota
	StateGreeting
	StateListening
	StateResponding
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInitiating:
		return "initiating"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateResponding:
		return "responding"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

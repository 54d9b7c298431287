package stream

// State is the lifecycle position of one source's supervisor.
type State int

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
	Draining
)

var stateNames = [...]string{"idle", "starting", "streaming", "stopping", "draining"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateNames lists every state label in declaration order.
func StateNames() []string {
	return stateNames[:]
}

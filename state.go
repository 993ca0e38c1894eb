package hitstore

import "fmt"

// state tracks the store lifecycle. Counting needs a window, which only
// arrives with Init.
type state int

const (
	stateConstructed state = iota
	stateReady
	stateShutdown
)

func (s state) String() string {
	switch s {
	case stateConstructed:
		return "constructed"
	case stateReady:
		return "ready"
	case stateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

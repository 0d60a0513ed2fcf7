package flowsync

import "fmt"

// State is a switch's synchronisation state.
type State int

const (
	// Disconnected switches have no control channel.
	Disconnected State = iota
	// Settling switches are connected and wait out the settle delay.
	Settling
	// Resetting switches are having their table rewritten, or the last
	// rewrite failed and waits for the next topology change.
	Resetting
	// Synced switches hold the rule set of the current topology.
	Synced
)

var stateNames = [...]string{"disconnected", "settling", "resetting", "synced"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

package failover

import (
	"fmt"
	"net/netip"
	"time"
)

// Trigger is what a packet to a trigger address starts.
type Trigger struct {
	Start    time.Duration `yaml:"start"`
	Duration time.Duration `yaml:"duration"`
	Reroute  time.Duration `yaml:"reroute"`
	// Restore withdraws the failover rules again Reroute after the link
	// comes back up.
	Restore bool `yaml:"restore"`
	// ResetAll rewrites every switch's flow table instead of emulating.
	ResetAll bool `yaml:"reset_all"`
}

func (t Trigger) String() string {
	if t.ResetAll {
		return "reset-all"
	}
	return fmt.Sprintf("start=%v duration=%v reroute=%v restore=%t", t.Start, t.Duration, t.Reroute, t.Restore)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func sec(n int) time.Duration { return time.Duration(n) * time.Second }

// DefaultTriggers is the stock trigger table.
func DefaultTriggers() map[netip.Addr]Trigger {
	addr := func(last byte) netip.Addr { return netip.AddrFrom4([4]byte{10, 10, 10, last}) }
	return map[netip.Addr]Trigger{
		addr(10): {Start: sec(3), Duration: ms(100), Restore: true},
		addr(11): {Start: sec(3), Duration: sec(10), Reroute: ms(200), Restore: true},
		addr(12): {Start: sec(3), Duration: sec(10), Reroute: sec(2), Restore: true},
		addr(13): {Start: sec(3), Duration: sec(10), Restore: true},

		addr(20): {Start: sec(10), Duration: ms(50), Restore: true},
		addr(21): {Start: sec(10), Duration: ms(100), Restore: true},
		addr(22): {Start: sec(5), Duration: sec(2), Reroute: ms(50)},
		addr(23): {Start: sec(10), Duration: sec(2), Reroute: ms(100)},
		addr(24): {Start: sec(5), Duration: sec(2), Reroute: ms(200)},
		addr(25): {Start: sec(5), Duration: sec(2), Reroute: sec(1)},
		addr(26): {Start: sec(5), Duration: sec(2), Reroute: sec(10)},
		addr(27): {Start: sec(5), Duration: sec(30)},

		addr(99): {ResetAll: true},
	}
}

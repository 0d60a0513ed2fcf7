package health

import "fmt"

// TopologyCheck is unhealthy until a topology has been published and
// degraded while it is empty.
func TopologyCheck(state func() (loaded bool, nodes, links, routes int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "topology",
			Details: make(map[string]any),
		}

		loaded, nodes, links, routes := state()
		check.Details["nodes"] = nodes
		check.Details["links"] = links
		check.Details["routes"] = routes

		switch {
		case !loaded:
			check.Status = StatusUnhealthy
			check.Message = "Topology not loaded"
		case nodes == 0:
			check.Status = StatusDegraded
			check.Message = "Topology is empty"
		default:
			check.Status = StatusHealthy
			check.Message = "Topology loaded"
		}
		return check
	}
}

// SwitchesCheck takes the switch count per synchronisation state. Any
// connected switch not yet synced degrades the controller.
func SwitchesCheck(summary func() map[string]int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "switches",
			Details: make(map[string]any),
		}

		counts := summary()
		connected := 0
		for state, n := range counts {
			check.Details[state] = n
			if state != "disconnected" {
				connected += n
			}
		}
		synced := counts["synced"]

		switch {
		case connected == 0:
			check.Status = StatusHealthy
			check.Message = "No switches connected"
		case synced < connected:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d of %d switches synced", synced, connected)
		default:
			check.Status = StatusHealthy
			check.Message = "All switches synced"
		}
		return check
	}
}

// BarrierCheck degrades when more than limit barriers are unanswered.
func BarrierCheck(pending func() int, limit int) CheckFunc {
	return func() Check {
		n := pending()
		check := Check{
			Name:    "barriers",
			Status:  StatusHealthy,
			Details: map[string]any{"pending": n},
		}
		if n > limit {
			check.Status = StatusDegraded
			check.Message = "Barriers outstanding"
		}
		return check
	}
}

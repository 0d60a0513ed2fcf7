package openflow

import (
	"cmp"
	"slices"
	"sync"
)

// FlowEntry is an installed rule.
type FlowEntry struct {
	Match       Match
	Priority    uint16
	HardTimeout uint16
	Actions     []Action
}

func (e FlowEntry) String() string {
	return FlowMod{Command: CommandAdd, Match: e.Match, Priority: e.Priority, Actions: e.Actions}.String()
}

type flowKey struct {
	match    Match
	priority uint16
}

// FlowTable applies flow-mods the way a switch does: add replaces a rule
// with the same match and priority, delete removes every rule the match
// covers and delete-strict removes the exact rule.
type FlowTable struct {
	mu      sync.Mutex
	entries map[flowKey]FlowEntry
}

func NewFlowTable() *FlowTable {
	return &FlowTable{entries: make(map[flowKey]FlowEntry)}
}

// Apply executes one flow-mod and returns how many rules it touched.
func (t *FlowTable) Apply(fm FlowMod) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch fm.Command {
	case CommandAdd:
		t.entries[flowKey{fm.Match, fm.Priority}] = FlowEntry{
			Match:       fm.Match,
			Priority:    fm.Priority,
			HardTimeout: fm.HardTimeout,
			Actions:     slices.Clone(fm.Actions),
		}
		return 1
	case CommandDelete:
		n := 0
		for k := range t.entries {
			if fm.Match.Covers(k.match) {
				delete(t.entries, k)
				n++
			}
		}
		return n
	case CommandDeleteStrict:
		k := flowKey{fm.Match, fm.Priority}
		if _, ok := t.entries[k]; ok {
			delete(t.entries, k)
			return 1
		}
	}
	return 0
}

// Lookup returns the rule with exactly this match and priority.
func (t *FlowTable) Lookup(m Match, priority uint16) (FlowEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[flowKey{m, priority}]
	return e, ok
}

// Entries returns the rules ordered by descending priority, then match.
func (t *FlowTable) Entries() []FlowEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FlowEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b FlowEntry) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Match.String(), b.Match.String())
	})
	return out
}

func (t *FlowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

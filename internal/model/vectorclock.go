package model

// VectorClockEntry is a single node's counter within a vector clock
type VectorClockEntry struct {
	NodeID           string `json:"node_id"`
	LogicalTimestamp int64  `json:"logical_timestamp"`
}

// VectorClock tracks causality across metadata nodes. Entries are kept
// sorted by NodeID so serialized clocks are deterministic.
type VectorClock struct {
	Entries []VectorClockEntry `json:"entries,omitempty"`
}

// ClockRelation is the result of comparing two vector clocks
type ClockRelation int

const (
	// ClockEqual means both vector clocks are identical
	ClockEqual ClockRelation = iota
	// ClockBefore means the first clock happens before the second
	ClockBefore
	// ClockAfter means the first clock happens after the second
	ClockAfter
	// ClockConcurrent means neither clock dominates (siblings)
	ClockConcurrent
)

// String returns a human-readable relation name for logs
func (r ClockRelation) String() string {
	switch r {
	case ClockEqual:
		return "EQUAL"
	case ClockBefore:
		return "BEFORE"
	case ClockAfter:
		return "AFTER"
	case ClockConcurrent:
		return "CONCURRENT"
	default:
		return "UNKNOWN"
	}
}

// IsEmpty reports whether the clock has no recorded events
func (vc VectorClock) IsEmpty() bool {
	return len(vc.Entries) == 0
}

// TimestampFor returns the logical timestamp recorded for a node,
// zero when the node has no entry
func (vc VectorClock) TimestampFor(nodeID string) int64 {
	for _, e := range vc.Entries {
		if e.NodeID == nodeID {
			return e.LogicalTimestamp
		}
	}
	return 0
}

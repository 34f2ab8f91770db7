package algorithm

import (
	"sort"

	"github.com/stratafs/strata/internal/model"
)

// VectorClockOps provides operations on vector clocks
type VectorClockOps struct{}

// NewVectorClockOps creates a new VectorClockOps
func NewVectorClockOps() *VectorClockOps {
	return &VectorClockOps{}
}

// Compare compares two vector clocks
func (v *VectorClockOps) Compare(vc1, vc2 model.VectorClock) model.ClockRelation {
	map1 := v.toMap(vc1)
	map2 := v.toMap(vc2)

	allBefore := true
	allAfter := true

	allNodes := make(map[string]bool)
	for nodeID := range map1 {
		allNodes[nodeID] = true
	}
	for nodeID := range map2 {
		allNodes[nodeID] = true
	}

	for nodeID := range allNodes {
		ts1 := map1[nodeID]
		ts2 := map2[nodeID]

		if ts1 < ts2 {
			allAfter = false
		} else if ts1 > ts2 {
			allBefore = false
		}
	}

	if allBefore && allAfter {
		return model.ClockEqual
	}
	if allBefore {
		return model.ClockBefore
	}
	if allAfter {
		return model.ClockAfter
	}
	return model.ClockConcurrent
}

// Merge merges multiple vector clocks by taking the component-wise max
func (v *VectorClockOps) Merge(clocks ...model.VectorClock) model.VectorClock {
	merged := make(map[string]int64)

	for _, clock := range clocks {
		for _, entry := range clock.Entries {
			if existing, exists := merged[entry.NodeID]; !exists || entry.LogicalTimestamp > existing {
				merged[entry.NodeID] = entry.LogicalTimestamp
			}
		}
	}

	return v.fromMap(merged)
}

// Increment increments the vector clock component for a given node
func (v *VectorClockOps) Increment(vc model.VectorClock, nodeID string) model.VectorClock {
	vcMap := v.toMap(vc)
	vcMap[nodeID]++
	return v.fromMap(vcMap)
}

// GetMaxTimestamp returns the maximum timestamp in the vector clock
func (v *VectorClockOps) GetMaxTimestamp(vc model.VectorClock) int64 {
	var max int64
	for _, entry := range vc.Entries {
		if entry.LogicalTimestamp > max {
			max = entry.LogicalTimestamp
		}
	}
	return max
}

// toMap converts a vector clock to a map for easier operations
func (v *VectorClockOps) toMap(vc model.VectorClock) map[string]int64 {
	m := make(map[string]int64)
	for _, entry := range vc.Entries {
		m[entry.NodeID] = entry.LogicalTimestamp
	}
	return m
}

// fromMap rebuilds a clock with entries sorted by node ID so that
// serialized clocks are byte-stable
func (v *VectorClockOps) fromMap(m map[string]int64) model.VectorClock {
	if len(m) == 0 {
		return model.VectorClock{}
	}
	entries := make([]model.VectorClockEntry, 0, len(m))
	for nodeID, timestamp := range m {
		entries = append(entries, model.VectorClockEntry{
			NodeID:           nodeID,
			LogicalTimestamp: timestamp,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NodeID < entries[j].NodeID
	})
	return model.VectorClock{Entries: entries}
}

package algorithm

import (
	"github.com/stratafs/strata/internal/model"
)

// PlacementPlan is the computed fan-out plan for one journal entry
type PlacementPlan struct {
	// TotalNodes counts every registered peer plus this node
	TotalNodes int
	// EffectiveTarget is the number of copies actually aimed for,
	// capped by cluster size and the max factor
	EffectiveTarget int
	// TargetNodeCount is how many peers will receive a delivery
	TargetNodeCount int
	// TargetNodes are the selected peers, masters first, each group
	// in registration order
	TargetNodes []string
}

// PlacementCalculator computes replication fan-out plans and
// classifies outcomes
type PlacementCalculator struct{}

// NewPlacementCalculator creates a new placement calculator
func NewPlacementCalculator() *PlacementCalculator {
	return &PlacementCalculator{}
}

// Plan computes the fan-out plan for one replication attempt.
// registeredPeers is every non-deregistered peer; availablePeers is the
// ordered candidate list (masters first, registration order) that may
// actually receive deliveries. requestedLevel overrides the configured
// target factor when positive.
func (c *PlacementCalculator) Plan(targetFactor, maxFactor, requestedLevel, registeredPeers int, availablePeers []*model.PeerNode) PlacementPlan {
	totalNodes := registeredPeers + 1

	target := targetFactor
	if requestedLevel > 0 {
		target = requestedLevel
	}
	effectiveTarget := min(target, totalNodes)
	effectiveTarget = min(effectiveTarget, maxFactor)
	if effectiveTarget < 1 {
		effectiveTarget = 1
	}

	targetNodeCount := min(effectiveTarget-1, maxFactor-1)
	targetNodeCount = min(targetNodeCount, len(availablePeers))
	if targetNodeCount < 0 {
		targetNodeCount = 0
	}

	nodes := make([]string, 0, targetNodeCount)
	for _, p := range availablePeers[:targetNodeCount] {
		nodes = append(nodes, p.NodeID)
	}

	return PlacementPlan{
		TotalNodes:      totalNodes,
		EffectiveTarget: effectiveTarget,
		TargetNodeCount: targetNodeCount,
		TargetNodes:     nodes,
	}
}

// Classify maps a success count to the record status and success level.
// The quorum size is a hard floor; it never shrinks to match a small
// cluster, so a self-only write against quorum 3 classifies as FAILED.
func (c *PlacementCalculator) Classify(successCount, quorumSize, effectiveTarget int) (model.ReplicationStatus, model.SuccessLevel) {
	switch {
	case successCount >= effectiveTarget && successCount >= quorumSize:
		return model.ReplicationComplete, model.LevelTargetAchieved
	case successCount >= quorumSize:
		return model.ReplicationPartial, model.LevelQuorumAchieved
	default:
		return model.ReplicationFailed, model.LevelNoReplication
	}
}

// IsQuorumReached checks if quorum is reached
func (c *PlacementCalculator) IsQuorumReached(successCount, quorumSize int) bool {
	return successCount >= quorumSize
}

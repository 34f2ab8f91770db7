package algorithm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratafs/strata/internal/model"
)

func peers(ids ...string) []*model.PeerNode {
	out := make([]*model.PeerNode, 0, len(ids))
	for _, id := range ids {
		role := model.RoleWorker
		if len(id) > 1 && id[0] == 'm' {
			role = model.RoleMaster
		}
		out = append(out, &model.PeerNode{NodeID: id, Role: role, State: model.PeerReachable})
	}
	return out
}

func TestPlacementCalculator_Plan(t *testing.T) {
	calc := NewPlacementCalculator()

	tests := []struct {
		name            string
		targetFactor    int
		maxFactor       int
		requestedLevel  int
		available       []*model.PeerNode
		wantTotal       int
		wantEffective   int
		wantTargetCount int
	}{
		{
			name:            "three peers cover a target of four",
			targetFactor:    4,
			maxFactor:       5,
			available:       peers("w1", "w2", "w3"),
			wantTotal:       4,
			wantEffective:   4,
			wantTargetCount: 3,
		},
		{
			name:            "no peers leaves only the local copy",
			targetFactor:    4,
			maxFactor:       5,
			available:       nil,
			wantTotal:       1,
			wantEffective:   1,
			wantTargetCount: 0,
		},
		{
			name:            "target capped by cluster size",
			targetFactor:    5,
			maxFactor:       5,
			available:       peers("w1", "w2"),
			wantTotal:       3,
			wantEffective:   3,
			wantTargetCount: 2,
		},
		{
			name:            "max factor caps a large requested level",
			targetFactor:    3,
			maxFactor:       5,
			requestedLevel:  10,
			available:       peers("m1", "w1", "w2", "w3", "w4", "w5"),
			wantTotal:       7,
			wantEffective:   5,
			wantTargetCount: 4,
		},
		{
			name:            "requested level overrides target factor",
			targetFactor:    2,
			maxFactor:       5,
			requestedLevel:  4,
			available:       peers("w1", "w2", "w3", "w4"),
			wantTotal:       5,
			wantEffective:   4,
			wantTargetCount: 3,
		},
		{
			name:            "more peers than needed selects only the target count",
			targetFactor:    4,
			maxFactor:       5,
			available:       peers("w1", "w2", "w3", "w4", "w5", "w6"),
			wantTotal:       7,
			wantEffective:   4,
			wantTargetCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := calc.Plan(tt.targetFactor, tt.maxFactor, tt.requestedLevel, len(tt.available), tt.available)

			assert.Equal(t, tt.wantTotal, plan.TotalNodes)
			assert.Equal(t, tt.wantEffective, plan.EffectiveTarget)
			assert.Equal(t, tt.wantTargetCount, plan.TargetNodeCount)
			assert.Len(t, plan.TargetNodes, tt.wantTargetCount)
		})
	}
}

func TestPlacementCalculator_PlanPrefersMasters(t *testing.T) {
	calc := NewPlacementCalculator()

	// Candidate order is masters first, registration order within each
	// group; the plan takes a prefix of it
	available := peers("m1", "w1", "w2", "w3", "w4", "w5")
	plan := calc.Plan(3, 5, 0, 6, available)

	assert.Equal(t, 2, plan.TargetNodeCount)
	assert.Equal(t, []string{"m1", "w1"}, plan.TargetNodes)
}

func TestPlacementCalculator_PlanNeverExceedsMaxCopies(t *testing.T) {
	calc := NewPlacementCalculator()

	// One master, six workers, max factor five: at most four peer
	// deliveries so that local plus acks never exceeds five copies
	available := peers("m1", "w1", "w2", "w3", "w4", "w5", "w6")
	plan := calc.Plan(7, 5, 0, 7, available)

	assert.LessOrEqual(t, plan.TargetNodeCount, 4)
	assert.LessOrEqual(t, 1+plan.TargetNodeCount, 5)
	assert.Equal(t, "m1", plan.TargetNodes[0])
}

func TestPlacementCalculator_Classify(t *testing.T) {
	calc := NewPlacementCalculator()

	tests := []struct {
		name            string
		successCount    int
		quorumSize      int
		effectiveTarget int
		wantStatus      model.ReplicationStatus
		wantLevel       model.SuccessLevel
	}{
		{
			name:            "target and quorum met",
			successCount:    4,
			quorumSize:      3,
			effectiveTarget: 4,
			wantStatus:      model.ReplicationComplete,
			wantLevel:       model.LevelTargetAchieved,
		},
		{
			name:            "quorum met but short of target",
			successCount:    3,
			quorumSize:      3,
			effectiveTarget: 4,
			wantStatus:      model.ReplicationPartial,
			wantLevel:       model.LevelQuorumAchieved,
		},
		{
			name:            "below quorum fails",
			successCount:    2,
			quorumSize:      3,
			effectiveTarget: 4,
			wantStatus:      model.ReplicationFailed,
			wantLevel:       model.LevelNoReplication,
		},
		{
			name:            "local copy alone never satisfies the quorum floor",
			successCount:    1,
			quorumSize:      3,
			effectiveTarget: 1,
			wantStatus:      model.ReplicationFailed,
			wantLevel:       model.LevelNoReplication,
		},
		{
			name:            "quorum of one accepts a local-only write",
			successCount:    1,
			quorumSize:      1,
			effectiveTarget: 1,
			wantStatus:      model.ReplicationComplete,
			wantLevel:       model.LevelTargetAchieved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, level := calc.Classify(tt.successCount, tt.quorumSize, tt.effectiveTarget)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantLevel, level)
		})
	}
}

func TestPlacementCalculator_IsQuorumReached(t *testing.T) {
	calc := NewPlacementCalculator()

	assert.True(t, calc.IsQuorumReached(3, 3))
	assert.True(t, calc.IsQuorumReached(5, 3))
	assert.False(t, calc.IsQuorumReached(2, 3))
}

func BenchmarkPlacementCalculator_Plan(b *testing.B) {
	calc := NewPlacementCalculator()
	available := make([]*model.PeerNode, 0, 50)
	for i := 0; i < 50; i++ {
		available = append(available, &model.PeerNode{
			NodeID: fmt.Sprintf("node-%d", i),
			Role:   model.RoleWorker,
			State:  model.PeerReachable,
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		calc.Plan(3, 5, 0, len(available), available)
	}
}

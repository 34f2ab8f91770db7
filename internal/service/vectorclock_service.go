package service

import (
	"sync"

	"github.com/stratafs/strata/internal/algorithm"
	"github.com/stratafs/strata/internal/model"
)

// VectorClockService owns this node's vector clock. Every local
// mutation stamps the clock; every remote update observed merges the
// sender's clock in, so the local clock always dominates everything
// this node has seen.
type VectorClockService struct {
	nodeID  string
	mu      sync.Mutex
	current model.VectorClock
	vcOps   *algorithm.VectorClockOps
}

// NewVectorClockService creates a new vector clock service
func NewVectorClockService(nodeID string) *VectorClockService {
	return &VectorClockService{
		nodeID: nodeID,
		vcOps:  algorithm.NewVectorClockOps(),
	}
}

// NodeID returns the owning node's ID
func (s *VectorClockService) NodeID() string {
	return s.nodeID
}

// Stamp increments this node's component and returns the new clock,
// used to stamp a local journal entry
func (s *VectorClockService) Stamp() model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.vcOps.Increment(s.current, s.nodeID)
	return s.current
}

// Observe merges a remote clock into the local one and increments this
// node's component to record the receive event
func (s *VectorClockService) Observe(remote model.VectorClock) model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.vcOps.Increment(s.vcOps.Merge(s.current, remote), s.nodeID)
	return s.current
}

// Restore merges a recovered clock in without incrementing, used when
// rebuilding state from a checkpoint and journal replay. Recovery
// replays history rather than creating events, so the own component
// must end up exactly where it was.
func (s *VectorClockService) Restore(recovered model.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.vcOps.Merge(s.current, recovered)
}

// Current returns the clock as of now
func (s *VectorClockService) Current() model.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Compare compares two vector clocks
func (s *VectorClockService) Compare(vc1, vc2 model.VectorClock) model.ClockRelation {
	return s.vcOps.Compare(vc1, vc2)
}

// Merge merges multiple vector clocks
func (s *VectorClockService) Merge(clocks ...model.VectorClock) model.VectorClock {
	return s.vcOps.Merge(clocks...)
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stratafs/strata/internal/model"
)

func TestLastWriterWins_Resolve(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		local  *model.FileMetadata
		remote *model.JournalEntry
		want   Resolution
	}{
		{
			name:   "no local state applies remote",
			local:  nil,
			remote: &model.JournalEntry{Timestamp: base, Origin: "node-b"},
			want:   ResolutionApplyRemote,
		},
		{
			name:   "later remote wins",
			local:  &model.FileMetadata{ModifiedAt: base, Origin: "node-a"},
			remote: &model.JournalEntry{Timestamp: base.Add(time.Second), Origin: "node-b"},
			want:   ResolutionApplyRemote,
		},
		{
			name:   "later local wins",
			local:  &model.FileMetadata{ModifiedAt: base.Add(time.Second), Origin: "node-a"},
			remote: &model.JournalEntry{Timestamp: base, Origin: "node-b"},
			want:   ResolutionKeepLocal,
		},
		{
			name:   "timestamp tie breaks by greater origin",
			local:  &model.FileMetadata{ModifiedAt: base, Origin: "node-a"},
			remote: &model.JournalEntry{Timestamp: base, Origin: "node-b"},
			want:   ResolutionApplyRemote,
		},
		{
			name:   "timestamp tie with lesser origin keeps local",
			local:  &model.FileMetadata{ModifiedAt: base, Origin: "node-b"},
			remote: &model.JournalEntry{Timestamp: base, Origin: "node-a"},
			want:   ResolutionKeepLocal,
		},
		{
			name:   "identical timestamp and origin keeps local",
			local:  &model.FileMetadata{ModifiedAt: base, Origin: "node-a"},
			remote: &model.JournalEntry{Timestamp: base, Origin: "node-a"},
			want:   ResolutionKeepLocal,
		},
	}

	resolver := NewLastWriterWins()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.Resolve(tt.local, tt.remote))
		})
	}
}

// Both sides of a concurrent pair must agree on the winner no matter
// which node runs the resolution.
func TestLastWriterWins_ResolveIsSymmetric(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewLastWriterWins()

	onA := resolver.Resolve(
		&model.FileMetadata{ModifiedAt: base, Origin: "node-a"},
		&model.JournalEntry{Timestamp: base.Add(time.Millisecond), Origin: "node-b"},
	)
	onB := resolver.Resolve(
		&model.FileMetadata{ModifiedAt: base.Add(time.Millisecond), Origin: "node-b"},
		&model.JournalEntry{Timestamp: base, Origin: "node-a"},
	)

	// node-b's update wins on both nodes
	assert.Equal(t, ResolutionApplyRemote, onA)
	assert.Equal(t, ResolutionKeepLocal, onB)
}

func TestLastWriterWins_Name(t *testing.T) {
	assert.Equal(t, "last_writer_wins", NewLastWriterWins().Name())
}

package contentstore

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/stratafs/strata/internal/errors"
)

// Store is the content backend behind one storage tier. The metadata
// core only moves opaque bytes through it; real network or archival
// backends implement this interface outside the module.
type Store interface {
	// Put stores data and returns its content ID. Storing the same
	// bytes twice returns the same ID.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
	Exists(ctx context.Context, contentID string) (bool, error)
}

// Deleter is the optional reclaim capability. Migrations type-assert
// for it to drop the source copy after a move; backends without it
// just keep the extra copy.
type Deleter interface {
	Delete(ctx context.Context, contentID string) error
}

// ContentID computes a content address: the hex BLAKE3 digest of the
// bytes. Every Store implementation shipped here uses it so IDs stay
// comparable across tiers.
func ContentID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateID rejects IDs that cannot be a hex digest; keeps malformed
// input out of disk paths
func ValidateID(contentID string) error {
	if len(contentID) != 64 {
		return errors.InvalidArgument("content ID must be a 64-char hex digest", nil).
			WithDetail("content_id", contentID)
	}
	if _, err := hex.DecodeString(contentID); err != nil {
		return errors.InvalidArgument("content ID is not valid hex", err).
			WithDetail("content_id", contentID)
	}
	return nil
}

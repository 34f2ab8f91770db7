package contentstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratafs/strata/internal/errors"
)

// Disk is the local-tier content store: content-addressed files under
// a root directory with a two-level fan-out (aa/bb/<id>) to keep
// directories small. Writes land in a temp file and are renamed into
// place, so readers never observe partial blobs.
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content root: %w", err)
	}
	return &Disk{root: root}, nil
}

func (d *Disk) blobPath(contentID string) string {
	return filepath.Join(d.root, contentID[:2], contentID[2:4], contentID)
}

// Put stores data under its content ID, deduplicating existing blobs
func (d *Disk) Put(ctx context.Context, data []byte) (string, error) {
	id := ContentID(data)
	path := d.blobPath(id)

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}

	return id, nil
}

// Get returns the bytes for a content ID
func (d *Disk) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ValidateID(contentID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.blobPath(contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ContentNotFound(contentID)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether the content ID is stored
func (d *Disk) Exists(ctx context.Context, contentID string) (bool, error) {
	if err := ValidateID(contentID); err != nil {
		return false, err
	}

	_, err := os.Stat(d.blobPath(contentID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// Delete removes a blob if present
func (d *Disk) Delete(ctx context.Context, contentID string) error {
	if err := ValidateID(contentID); err != nil {
		return err
	}

	err := os.Remove(d.blobPath(contentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

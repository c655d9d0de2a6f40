// Package storage persists named artifact blobs. Each artifact is read and
// written independently so a failure on one never corrupts another.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Store holds opaque blobs by name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	// Get returns found=false with a nil error when name does not exist.
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName accepts names made of letters, digits, hyphens and
// underscores, so a name maps safely onto a file name or a redis key.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("artifact name required")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid artifact name %q: only alphanumeric, hyphens, and underscores allowed", name)
		}
	}
	return nil
}

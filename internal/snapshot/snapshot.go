// Package snapshot archives the annotated JPEG captured when an alert fires.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive stores alert snapshots by key.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Key returns the archive key for an alert snapshot: falls/YYYY/MM/DD/<id>.jpg.
func Key(alertID string, at time.Time) string {
	return fmt.Sprintf("falls/%s/%s.jpg", at.Format("2006/01/02"), alertID)
}

// DirArchive writes snapshots below a local directory.
type DirArchive struct {
	root string
}

// NewDirArchive creates root if needed.
func NewDirArchive(root string) (*DirArchive, error) {
	if root == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &DirArchive{root: root}, nil
}

// Root returns the archive directory.
func (a *DirArchive) Root() string {
	return a.root
}

func (a *DirArchive) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(a.root, filepath.FromSlash(key))
	if rel, err := filepath.Rel(a.root, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("snapshot key %q escapes archive root", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	// Write then rename so readers never see a partial JPEG
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

package shardmedia

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known directories under a Layout root.
const (
	ThumbnailDirName   = "thumbnails"
	ChunkDirName       = "video_chunks"
	PreviewDirName     = "previews"
	SanitizedDirName   = "sanitized"
	UnprocessedDirName = "unprocessed"
	DatabaseFileName   = "database.db"
)

// Layout is the local filesystem contract of an upload run: one staging
// directory per account next to the shared working directories.
type Layout struct {
	Root string
}

// AccountDir is the staging directory of ciphertext bound for an account.
func (l Layout) AccountDir(accountID string) string {
	return filepath.Join(l.Root, accountID)
}

func (l Layout) ThumbnailDir() string   { return filepath.Join(l.Root, ThumbnailDirName) }
func (l Layout) ChunkDir() string       { return filepath.Join(l.Root, ChunkDirName) }
func (l Layout) PreviewDir() string     { return filepath.Join(l.Root, PreviewDirName) }
func (l Layout) SanitizedDir() string   { return filepath.Join(l.Root, SanitizedDirName) }
func (l Layout) UnprocessedDir() string { return filepath.Join(l.Root, UnprocessedDirName) }
func (l Layout) DatabasePath() string   { return filepath.Join(l.Root, DatabaseFileName) }

// Ensure creates the shared directories and one staging directory per account.
func (l Layout) Ensure(accountIDs ...string) error {
	if l.Root == "" {
		return fmt.Errorf("layout root is required")
	}
	dirs := []string{l.ThumbnailDir(), l.ChunkDir(), l.PreviewDir(), l.SanitizedDir(), l.UnprocessedDir()}
	for _, id := range accountIDs {
		dirs = append(dirs, l.AccountDir(id))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

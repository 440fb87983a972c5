package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sanitizer converts raw uploads in srcDir into canonical images (.jpg) and
// videos (.webm) in dstDir, removing what it consumed.
type Sanitizer interface {
	Sanitize(ctx context.Context, srcDir, dstDir string) error
}

// PassthroughSanitizer moves files that already carry a canonical
// extension and leaves everything else in place.
type PassthroughSanitizer struct {
	Extensions []string // default: .jpg, .webm
}

func (s PassthroughSanitizer) Sanitize(ctx context.Context, srcDir, dstDir string) error {
	exts := s.Extensions
	if len(exts) == 0 {
		exts = []string{".jpg", ".webm"}
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() || !hasExt(entry.Name(), exts) {
			continue
		}
		if err := os.Rename(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name())); err != nil {
			return fmt.Errorf("move %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func hasExt(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.EqualFold(filepath.Ext(name), ext) {
			return true
		}
	}
	return false
}

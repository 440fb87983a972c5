// Package storage holds helpers shared by the Transfer backends in its
// subpackages.
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// LocalFile is one file selected by a Put.
type LocalFile struct {
	Path string // absolute or caller-relative local path
	Rel  string // slash-separated path relative to the Put root
}

// LocalFiles lists the regular files under localPath in lexical order. A
// file path yields itself with its base name as Rel.
func LocalFiles(localPath string) ([]LocalFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if !info.IsDir() {
		return []LocalFile{{Path: localPath, Rel: filepath.Base(localPath)}}, nil
	}

	var files []LocalFile
	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		files = append(files, LocalFile{Path: p, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", localPath, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// Key joins remote path elements into a clean key without a leading slash.
func Key(elem ...string) string {
	return strings.TrimPrefix(path.Clean("/"+path.Join(elem...)), "/")
}

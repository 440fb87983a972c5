// Package chunker splits large media files into variably sized chunks and
// joins them back in order.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

// Default chunk size bounds. Sizes are drawn uniformly from [Min, Max).
const (
	MinChunkSize = 700 * 1024
	MaxChunkSize = 2048 * 1024
)

// Chunker splits streams into chunks whose sizes vary so chunk boundaries
// do not reveal the source length.
type Chunker struct {
	min, max int
	rng      *rand.Rand
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSizeRange overrides the chunk size bounds. Invalid ranges are ignored.
func WithSizeRange(min, max int) Option {
	return func(c *Chunker) {
		if min > 0 && max >= min {
			c.min, c.max = min, max
		}
	}
}

// WithRand sets the size source, for reproducible splits.
func WithRand(r *rand.Rand) Option {
	return func(c *Chunker) {
		if r != nil {
			c.rng = r
		}
	}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{min: MinChunkSize, max: MaxChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chunker) nextSize() int {
	if c.max <= c.min {
		return c.min
	}
	if c.rng != nil {
		return c.min + c.rng.IntN(c.max-c.min)
	}
	return c.min + rand.IntN(c.max-c.min)
}

// Split reads r to EOF and calls fn for each chunk, in order starting at
// index 0. The chunk slice is only valid for the duration of the call. An
// empty input produces no chunks.
func (c *Chunker) Split(r io.Reader, fn func(index int, chunk []byte) error) (int, error) {
	buf := make([]byte, c.max)
	index := 0
	for {
		size := c.nextSize()
		n, err := io.ReadFull(r, buf[:size])
		if n > 0 {
			if ferr := fn(index, buf[:n]); ferr != nil {
				return index, ferr
			}
			index++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return index, nil
		}
		if err != nil {
			return index, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
	}
}

// SplitFile splits src into destDir as base_0000.ext, base_0001.ext, ...
// and returns the chunk paths in order.
func (c *Chunker) SplitFile(ctx context.Context, src, destDir string) ([]string, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	name := filepath.Base(src)
	var paths []string
	_, err = c.Split(in, func(index int, chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(destDir, shardmedia.ChunkName(name, index))
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			return fmt.Errorf("failed to write chunk %d of %s: %w", index, name, err)
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return paths, err
	}
	return paths, nil
}

// Join concatenates chunk files into w in the given order.
func Join(w io.Writer, paths []string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open chunk: %w", err)
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to copy chunk %s: %w", path, err)
		}
	}
	return nil
}

// SortChunks orders chunk paths by their parsed index. Paths without an
// index sort first, by name.
func SortChunks(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		bi, ii, oki := shardmedia.ParseChunkName(filepath.Base(paths[i]))
		bj, ij, okj := shardmedia.ParseChunkName(filepath.Base(paths[j]))
		if oki != okj {
			return !oki
		}
		if bi != bj {
			return bi < bj
		}
		return ii < ij
	})
}

// Package placement encrypts produced objects into per-account staging
// directories, rotating over the configured accounts, and records where
// each one went.
package placement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
	"github.com/tendant/shardmedia/pkg/shardmedia/metrics"
)

// Engine places objects round-robin over a fixed account list. The counter
// is shared by every Place call on one Engine, so objects from different
// sources interleave across accounts. An Engine is not safe for concurrent use.
type Engine struct {
	repo     shardmedia.Repository
	wrapper  *keywrap.Wrapper
	accounts []*shardmedia.Account
	layout   shardmedia.Layout

	counter int

	logger    *slog.Logger
	eventSink shardmedia.EventSink
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option represents a functional option for configuring the engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink shardmedia.EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.eventSink = sink
		}
	}
}

// WithMetrics sets the metrics instruments
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the wall clock used for names without a capture time
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStartCounter starts the round-robin counter at n
func WithStartCounter(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.counter = n
		}
	}
}

// New creates an engine. At least one account is required.
func New(repo shardmedia.Repository, wrapper *keywrap.Wrapper, accounts []*shardmedia.Account, layout shardmedia.Layout, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if wrapper == nil {
		return nil, fmt.Errorf("key wrapper is required")
	}
	if len(accounts) == 0 {
		return nil, shardmedia.ErrNoAccounts
	}

	e := &Engine{
		repo:      repo,
		wrapper:   wrapper,
		accounts:  append([]*shardmedia.Account(nil), accounts...),
		layout:    layout,
		logger:    slog.Default(),
		eventSink: shardmedia.NewNoopEventSink(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Counter returns the number of objects assigned so far (plus any start offset).
func (e *Engine) Counter() int {
	return e.counter
}

// PlaceGlob places every file matching pattern in lexical order. No match
// is not an error.
func (e *Engine) PlaceGlob(ctx context.Context, pattern string) ([]*shardmedia.Placement, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		e.logger.DebugContext(ctx, "no objects to place", "pattern", pattern)
		return nil, nil
	}
	sort.Strings(paths)
	return e.Place(ctx, paths)
}

// Place places each path in order. The first failure aborts the batch;
// records already written stay.
func (e *Engine) Place(ctx context.Context, paths []string) ([]*shardmedia.Placement, error) {
	placements := make([]*shardmedia.Placement, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return placements, err
		}
		p, err := e.PlaceFile(ctx, path)
		if err != nil {
			return placements, err
		}
		placements = append(placements, p)
	}
	return placements, nil
}

// PlaceFile encrypts one object into the staging directory of the next
// account in rotation and records it.
func (e *Engine) PlaceFile(ctx context.Context, path string) (*shardmedia.Placement, error) {
	name := filepath.Base(path)
	seq := e.counter
	account := e.accounts[seq%len(e.accounts)]
	e.counter++

	objErr := func(op string, err error) error {
		return &shardmedia.ObjectError{Name: name, Op: op, Err: err}
	}

	nonce, wrapped, err := e.wrapper.NewObjectKey()
	if err != nil {
		return nil, objErr("wrap", err)
	}

	dir := e.layout.AccountDir(account.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, objErr("stage", err)
	}

	enc := e.wrapper.Encrypter()
	placement := &shardmedia.Placement{
		RemoteName: crypt.Hash(name, nonce),
		Sequence:   seq,
	}

	size, err := enc.EncryptFile(path, filepath.Join(dir, placement.RemoteName), nonce)
	if err != nil {
		return nil, objErr("encrypt", err)
	}
	placement.Size = size

	if shardmedia.IsHeadUnit(name) {
		if err := e.placeCompanions(ctx, enc, path, name, dir, nonce, placement); err != nil {
			return nil, objErr("companion", err)
		}
	}

	record := &shardmedia.ObjectRecord{
		Name:       name,
		CreatedAt:  shardmedia.CaptureTime(name, e.now()),
		AccountID:  account.ID,
		WrappedKey: wrapped,
	}
	if err := e.repo.CreateObject(ctx, record); err != nil {
		return nil, objErr("record", err)
	}
	placement.Record = record

	e.metrics.ObjectPlaced(account.ID, kindOf(name), size)
	if err := e.eventSink.ObjectPlaced(ctx, placement); err != nil {
		e.logger.WarnContext(ctx, "event sink failed", "object", name, "err", err)
	}
	e.logger.DebugContext(ctx, "object placed", "object", name, "account", account.ID, "seq", seq, "size", size)
	return placement, nil
}

// placeCompanions stages the fast-path companion of a head unit, encrypted
// under the preview name and plain in the preview cache, plus its gallery
// thumbnail when one was generated.
func (e *Engine) placeCompanions(ctx context.Context, enc *crypt.Encrypter, src, name, dir string, nonce []byte, p *shardmedia.Placement) error {
	companion := filepath.Join(e.layout.PreviewDir(), name)
	if _, err := os.Stat(companion); errors.Is(err, os.ErrNotExist) {
		// no downscaled rendition: the source itself is the companion
		if err := copyFile(src, companion); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	p.PreviewRemoteName = crypt.Hash(shardmedia.PreviewKey(name), nonce)
	if _, err := enc.EncryptFile(companion, filepath.Join(dir, p.PreviewRemoteName), nonce); err != nil {
		return err
	}

	thumbName := shardmedia.ThumbnailName(name)
	thumb := filepath.Join(e.layout.ThumbnailDir(), thumbName)
	if _, err := os.Stat(thumb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.WarnContext(ctx, "thumbnail missing, skipping", "object", name, "thumbnail", thumbName)
			return nil
		}
		return err
	}
	p.ThumbnailRemoteName = crypt.Hash(thumbName, nonce)
	_, err := enc.EncryptFile(thumb, filepath.Join(dir, p.ThumbnailRemoteName), nonce)
	return err
}

func kindOf(name string) string {
	switch {
	case shardmedia.IsImage(name):
		return "image"
	case shardmedia.IsVideo(name):
		return "video"
	}
	return "other"
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Package gateway resolves logical names to live decrypted streams, either
// from the local fast-path cache or by fetching and decrypting the sharded
// ciphertext.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
	"github.com/tendant/shardmedia/pkg/shardmedia/metrics"
)

// DefaultRemoteRoot is the remote directory objects are uploaded into.
const DefaultRemoteRoot = "/Root"

// ErrInvalidRequest indicates a malformed name or chunk index.
var ErrInvalidRequest = errors.New("invalid request")

// Request names one object. ChunkIndex selects a chunk of a chunked video;
// Preview asks for the quick rendition of an image.
type Request struct {
	Name       string
	ChunkIndex *int
	Preview    bool
}

// Stream is an open retrieval. The caller must close Body.
type Stream struct {
	Name        string
	ContentType string
	Body        io.ReadCloser
	FastPath    bool
}

// Gateway serves retrievals. Open may be called concurrently.
type Gateway struct {
	repo       shardmedia.Repository
	wrapper    *keywrap.Wrapper
	transfer   shardmedia.Transfer
	cacheDir   string
	remoteRoot string
	timeout    time.Duration

	logger    *slog.Logger
	eventSink shardmedia.EventSink
	metrics   *metrics.Metrics
}

// Option represents a functional option for configuring the gateway
type Option func(*Gateway)

// WithCacheDir sets the directory holding previews/ and thumbnails/
func WithCacheDir(dir string) Option {
	return func(g *Gateway) {
		g.cacheDir = dir
	}
}

// WithRemoteRoot sets the remote directory objects live in
func WithRemoteRoot(root string) Option {
	return func(g *Gateway) {
		if root != "" {
			g.remoteRoot = root
		}
	}
}

// WithFetchTimeout bounds each remote fetch, including streaming the body
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink shardmedia.EventSink) Option {
	return func(g *Gateway) {
		if sink != nil {
			g.eventSink = sink
		}
	}
}

// WithMetrics sets the metrics instruments
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a gateway.
func New(repo shardmedia.Repository, wrapper *keywrap.Wrapper, transfer shardmedia.Transfer, opts ...Option) (*Gateway, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if wrapper == nil {
		return nil, fmt.Errorf("key wrapper is required")
	}
	if transfer == nil {
		return nil, fmt.Errorf("transfer backend is required")
	}

	g := &Gateway{
		repo:       repo,
		wrapper:    wrapper,
		transfer:   transfer,
		remoteRoot: DefaultRemoteRoot,
		logger:     slog.Default(),
		eventSink:  shardmedia.NewNoopEventSink(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ResolveName applies the chunk index of req to its name.
func ResolveName(req Request) (string, error) {
	name := req.Name
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: bad name %q", ErrInvalidRequest, req.Name)
	}
	if req.ChunkIndex != nil {
		if *req.ChunkIndex < 0 || *req.ChunkIndex > 9999 {
			return "", fmt.Errorf("%w: chunk index %d out of range", ErrInvalidRequest, *req.ChunkIndex)
		}
		name = shardmedia.ChunkName(name, *req.ChunkIndex)
	}
	return name, nil
}

// IsFastPath reports whether a resolved name is served from the cache.
func IsFastPath(name string, preview bool) bool {
	return shardmedia.IsHeadChunk(name) || (preview && shardmedia.IsImage(name))
}

// Open returns a live stream of the decrypted object. An unknown name
// yields shardmedia.ErrObjectNotFound; a failed fetch yields an error
// matching shardmedia.ErrFetchFailed, at open or while reading.
func (g *Gateway) Open(ctx context.Context, req Request) (*Stream, error) {
	start := time.Now()
	name, err := ResolveName(req)
	if err != nil {
		return nil, err
	}

	fast := IsFastPath(name, req.Preview)
	if fast {
		if s, ok := g.openCached(ctx, name); ok {
			g.metrics.Retrieval(metrics.PathFast, metrics.ResultOK, time.Since(start))
			g.notify(ctx, name, true)
			return s, nil
		}
	}

	s, err := g.openSharded(ctx, name, fast && shardmedia.IsImage(name))
	g.metrics.Retrieval(metrics.PathSharded, resultOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	g.notify(ctx, name, false)
	return s, nil
}

func (g *Gateway) notify(ctx context.Context, name string, fast bool) {
	if err := g.eventSink.ObjectRetrieved(ctx, name, fast); err != nil {
		g.logger.WarnContext(ctx, "event sink failed", "object", name, "err", err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, shardmedia.ErrObjectNotFound):
		return metrics.ResultAbsent
	case errors.Is(err, shardmedia.ErrFetchFailed):
		return metrics.ResultFetchFailed
	}
	return metrics.ResultError
}

func (g *Gateway) openCached(ctx context.Context, name string) (*Stream, bool) {
	if g.cacheDir == "" {
		return nil, false
	}
	f, err := os.Open(filepath.Join(g.cacheDir, shardmedia.PreviewDirName, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.WarnContext(ctx, "fast-path cache unreadable, falling back", "object", name, "err", err)
		}
		return nil, false
	}
	return &Stream{Name: name, ContentType: shardmedia.ContentType(name), Body: f, FastPath: true}, true
}

// openSharded fetches and decrypts name. preview selects the preview
// companion of an image.
func (g *Gateway) openSharded(ctx context.Context, name string, preview bool) (*Stream, error) {
	record, err := g.repo.GetObject(ctx, name)
	if err != nil {
		return nil, err
	}
	account, err := g.repo.GetAccount(ctx, record.AccountID)
	if err != nil {
		return nil, &shardmedia.ObjectError{Name: name, Op: "resolve account", Err: err}
	}
	cred, err := g.wrapper.UnwrapAccount(account)
	if err != nil {
		return nil, err
	}
	nonce, err := g.wrapper.UnwrapObject(record)
	if err != nil {
		return nil, err
	}

	key := name
	if preview {
		key = shardmedia.PreviewKey(name)
	}
	remote := path.Join(g.remoteRoot, crypt.Hash(key, nonce))

	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}

	rc, err := g.transfer.Get(fetchCtx, cred, remote)
	if err != nil {
		cancel()
		return nil, &shardmedia.FetchError{Name: name, Account: account.ID, Err: err}
	}
	plain, err := g.wrapper.Encrypter().DecryptReader(rc, nonce)
	if err != nil {
		rc.Close()
		cancel()
		return nil, err
	}

	return &Stream{
		Name:        name,
		ContentType: shardmedia.ContentType(name),
		Body: &fetchStream{
			r:       plain,
			raw:     rc,
			cancel:  cancel,
			ctx:     fetchCtx,
			name:    name,
			account: account.ID,
		},
	}, nil
}

// fetchStream decrypts as bytes arrive and reports any mid-stream failure
// as a FetchError.
type fetchStream struct {
	r       io.Reader
	raw     io.ReadCloser
	cancel  context.CancelFunc
	ctx     context.Context
	name    string
	account string
}

func (s *fetchStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		if ctxErr := s.ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return n, &shardmedia.FetchError{Name: s.name, Account: s.account, Err: err}
	}
	return n, err
}

func (s *fetchStream) Close() error {
	err := s.raw.Close()
	s.cancel()
	return err
}

// OpenThumbnail returns the cached gallery thumbnail of name.
func (g *Gateway) OpenThumbnail(name string) (*Stream, error) {
	if _, err := ResolveName(Request{Name: name}); err != nil {
		return nil, err
	}
	if g.cacheDir == "" {
		return nil, shardmedia.ErrObjectNotFound
	}
	thumb := shardmedia.ThumbnailName(name)
	f, err := os.Open(filepath.Join(g.cacheDir, shardmedia.ThumbnailDirName, thumb))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, shardmedia.ErrObjectNotFound
		}
		return nil, err
	}
	return &Stream{Name: thumb, ContentType: "image/jpeg", Body: f, FastPath: true}, nil
}

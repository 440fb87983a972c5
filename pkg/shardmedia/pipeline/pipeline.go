// Package pipeline runs one upload pass over a Layout: sanitize, derive
// thumbnails and previews, place images, chunk and place videos, back up
// the metadata store, transfer every account and publish the fast-path
// cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/chunker"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
	"github.com/tendant/shardmedia/pkg/shardmedia/media"
	"github.com/tendant/shardmedia/pkg/shardmedia/metrics"
	"github.com/tendant/shardmedia/pkg/shardmedia/placement"
)

// DefaultRemoteRoot is the remote directory every account uploads into.
const DefaultRemoteRoot = "/Root"

// Report counts what each step of a run did.
type Report struct {
	Thumbnails  int
	Previews    int
	Images      int
	Videos      int
	Chunks      int
	Placed      int
	Transferred int
	Published   int
}

// Pipeline executes upload runs.
type Pipeline struct {
	repo     shardmedia.Repository
	wrapper  *keywrap.Wrapper
	transfer shardmedia.Transfer
	layout   shardmedia.Layout

	sanitizer  media.Sanitizer
	extractor  media.FrameExtractor
	chunker    *chunker.Chunker
	cacheDir   string
	remoteRoot string

	logger    *slog.Logger
	eventSink shardmedia.EventSink
	metrics   *metrics.Metrics
}

// Option represents a functional option for configuring the pipeline
type Option func(*Pipeline)

// WithSanitizer sets the sanitizer run over unprocessed/. Nil skips the step.
func WithSanitizer(s media.Sanitizer) Option {
	return func(p *Pipeline) {
		p.sanitizer = s
	}
}

// WithFrameExtractor sets the video frame extractor used for thumbnails
func WithFrameExtractor(fe media.FrameExtractor) Option {
	return func(p *Pipeline) {
		if fe != nil {
			p.extractor = fe
		}
	}
}

// WithChunker sets the video chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithCacheDir sets where thumbnails and previews are published for the
// gateway. Empty leaves them under the layout root.
func WithCacheDir(dir string) Option {
	return func(p *Pipeline) {
		p.cacheDir = dir
	}
}

// WithRemoteRoot sets the remote upload directory
func WithRemoteRoot(root string) Option {
	return func(p *Pipeline) {
		if root != "" {
			p.remoteRoot = root
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEventSink sets the event sink
func WithEventSink(sink shardmedia.EventSink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.eventSink = sink
		}
	}
}

// WithMetrics sets the metrics instruments
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a pipeline.
func New(repo shardmedia.Repository, wrapper *keywrap.Wrapper, transfer shardmedia.Transfer, layout shardmedia.Layout, opts ...Option) (*Pipeline, error) {
	if repo == nil || wrapper == nil || transfer == nil {
		return nil, fmt.Errorf("repository, key wrapper and transfer are required")
	}
	if layout.Root == "" {
		return nil, fmt.Errorf("layout root is required")
	}

	p := &Pipeline{
		repo:       repo,
		wrapper:    wrapper,
		transfer:   transfer,
		layout:     layout,
		extractor:  media.FFmpegFrameExtractor{},
		chunker:    chunker.New(),
		remoteRoot: DefaultRemoteRoot,
		logger:     slog.Default(),
		eventSink:  shardmedia.NewNoopEventSink(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one upload pass. Any error aborts the run; records already
// written are kept.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	accounts, err := p.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, shardmedia.ErrNoAccounts
	}
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	if err := p.layout.Ensure(ids...); err != nil {
		return nil, err
	}

	if p.sanitizer != nil {
		if err := p.sanitizer.Sanitize(ctx, p.layout.UnprocessedDir(), p.layout.SanitizedDir()); err != nil {
			return report, fmt.Errorf("sanitize: %w", err)
		}
	}

	sources, err := listFiles(p.layout.SanitizedDir())
	if err != nil {
		return report, err
	}
	var images, videos []string
	for _, src := range sources {
		switch {
		case shardmedia.IsImage(src):
			images = append(images, src)
		case shardmedia.IsVideo(src):
			videos = append(videos, src)
		default:
			p.logger.WarnContext(ctx, "skipping non-canonical file", "file", filepath.Base(src))
		}
	}
	report.Images, report.Videos = len(images), len(videos)

	report.Thumbnails = p.thumbnails(ctx, append(append([]string(nil), images...), videos...))
	report.Previews, err = p.previews(ctx, images)
	if err != nil {
		return report, err
	}

	engine, err := placement.New(p.repo, p.wrapper, accounts, p.layout,
		placement.WithLogger(p.logger),
		placement.WithEventSink(p.eventSink),
		placement.WithMetrics(p.metrics))
	if err != nil {
		return report, err
	}

	placed, err := engine.Place(ctx, images)
	report.Placed += len(placed)
	if err != nil {
		return report, fmt.Errorf("place images: %w", err)
	}

	chunks, err := p.chunkVideos(ctx, videos)
	report.Chunks = len(chunks)
	if err != nil {
		return report, err
	}

	placed, err = engine.Place(ctx, chunks)
	report.Placed += len(placed)
	if err != nil {
		return report, fmt.Errorf("place chunks: %w", err)
	}

	if err := p.backupMetadata(ctx, accounts); err != nil {
		return report, fmt.Errorf("back up metadata: %w", err)
	}

	for _, account := range accounts {
		if err := p.transferAccount(ctx, account); err != nil {
			return report, err
		}
		report.Transferred++
	}

	if err := p.clearStaging(accounts, append(images, videos...)); err != nil {
		return report, err
	}

	published, err := p.publish()
	report.Published = published
	if err != nil {
		return report, fmt.Errorf("publish cache: %w", err)
	}

	p.logger.InfoContext(ctx, "upload run complete",
		"images", report.Images, "videos", report.Videos, "chunks", report.Chunks,
		"placed", report.Placed, "accounts", report.Transferred)
	return report, nil
}

// thumbnails renders gallery thumbnails. Failures are logged; placement
// tolerates missing thumbnails.
func (p *Pipeline) thumbnails(ctx context.Context, sources []string) int {
	count := 0
	for _, src := range sources {
		dst := filepath.Join(p.layout.ThumbnailDir(), shardmedia.ThumbnailName(filepath.Base(src)))
		if _, err := os.Stat(dst); err == nil {
			count++
			continue
		}
		m, err := media.Open(src, media.WithFrameExtractor(p.extractor))
		if err == nil {
			err = m.Thumbnail(ctx, dst, media.ThumbnailWidth, media.ThumbnailHeight)
		}
		if err != nil {
			p.logger.WarnContext(ctx, "thumbnail failed", "file", filepath.Base(src), "err", err)
			continue
		}
		count++
	}
	return count
}

// previews renders the downscaled fast-path companion of each image. An
// image that cannot be decoded is skipped; failing to write a preview aborts
// the run.
func (p *Pipeline) previews(ctx context.Context, images []string) (int, error) {
	count := 0
	for _, src := range images {
		dst := filepath.Join(p.layout.PreviewDir(), filepath.Base(src))
		if err := media.Downscale(src, dst, media.PreviewWidth, media.PreviewHeight, media.PreviewQuality); err != nil {
			if errors.Is(err, media.ErrUndecodable) {
				p.logger.WarnContext(ctx, "preview skipped, image not decodable", "file", filepath.Base(src), "err", err)
				continue
			}
			return count, fmt.Errorf("write preview of %s: %w", filepath.Base(src), err)
		}
		count++
	}
	return count, nil
}

// chunkVideos splits every video into the chunk directory and copies each
// head chunk into the preview cache. Chunk paths are returned in order.
func (p *Pipeline) chunkVideos(ctx context.Context, videos []string) ([]string, error) {
	var all []string
	for _, src := range videos {
		chunks, err := p.chunker.SplitFile(ctx, src, p.layout.ChunkDir())
		if err != nil {
			return all, fmt.Errorf("chunk %s: %w", filepath.Base(src), err)
		}
		if len(chunks) > 0 {
			head := chunks[0]
			if err := copyFile(head, filepath.Join(p.layout.PreviewDir(), filepath.Base(head))); err != nil {
				return all, fmt.Errorf("cache head chunk: %w", err)
			}
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// backupMetadata encrypts a snapshot of the metadata store under the master
// secret into every account's staging directory as Hash(accountID).
func (p *Pipeline) backupMetadata(ctx context.Context, accounts []*shardmedia.Account) error {
	tmp, err := os.CreateTemp(p.layout.Root, ".metadata-*")
	if err != nil {
		return err
	}
	snapshot := tmp.Name()
	defer os.Remove(snapshot)

	if s, ok := p.repo.(shardmedia.Snapshotter); ok {
		tmp.Close()
		if err := s.Snapshot(ctx, snapshot); err != nil {
			return err
		}
	} else {
		err := shardmedia.DumpJSON(ctx, p.repo, tmp)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}

	enc := p.wrapper.Encrypter()
	for _, account := range accounts {
		dst := filepath.Join(p.layout.AccountDir(account.ID), crypt.Hash(account.ID, nil))
		if _, err := enc.EncryptFile(snapshot, dst, nil); err != nil {
			return fmt.Errorf("account %s: %w", account.ID, err)
		}
	}
	return nil
}

func (p *Pipeline) transferAccount(ctx context.Context, account *shardmedia.Account) error {
	cred, err := p.wrapper.UnwrapAccount(account)
	if err != nil {
		return err
	}
	err = p.transfer.Put(ctx, cred, p.layout.AccountDir(account.ID), p.remoteRoot)
	p.metrics.AccountTransferred(account.ID, err)
	if err != nil {
		return fmt.Errorf("transfer account %s: %w", account.ID, err)
	}
	if err := p.eventSink.AccountTransferred(ctx, account.ID); err != nil {
		p.logger.WarnContext(ctx, "event sink failed", "account", account.ID, "err", err)
	}
	return nil
}

// clearStaging empties the account directories and the chunk directory and
// removes consumed sources.
func (p *Pipeline) clearStaging(accounts []*shardmedia.Account, sources []string) error {
	dirs := []string{p.layout.ChunkDir()}
	for _, a := range accounts {
		dirs = append(dirs, p.layout.AccountDir(a.ID))
	}
	for _, dir := range dirs {
		if err := emptyDir(dir); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	for _, src := range sources {
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove source: %w", err)
		}
	}
	return nil
}

// publish moves thumbnails and previews into the gateway cache.
func (p *Pipeline) publish() (int, error) {
	if p.cacheDir == "" || filepath.Clean(p.cacheDir) == filepath.Clean(p.layout.Root) {
		return 0, nil
	}
	count := 0
	for _, sub := range []string{shardmedia.ThumbnailDirName, shardmedia.PreviewDirName} {
		files, err := listFiles(filepath.Join(p.layout.Root, sub))
		if err != nil {
			return count, err
		}
		dstDir := filepath.Join(p.cacheDir, sub)
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return count, err
		}
		for _, src := range files {
			if err := moveFile(src, filepath.Join(dstDir, filepath.Base(src))); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// cross-device: copy then remove
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
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

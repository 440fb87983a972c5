// Package media derives gallery thumbnails and preview renditions from
// sanitized images and videos.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// Rendition bounds and JPEG qualities.
const (
	ThumbnailWidth   = 256
	ThumbnailHeight  = 192
	ThumbnailQuality = 40

	PreviewWidth   = 1080
	PreviewHeight  = 1920
	PreviewQuality = 20
)

// ErrUnsupportedMedia is returned for content that is neither image nor video.
var ErrUnsupportedMedia = errors.New("unsupported media")

// ErrUndecodable is returned by Downscale when the source is not a readable image.
var ErrUndecodable = errors.New("undecodable image")

// Kind tags detected content.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	}
	return "unsupported"
}

// Detect sniffs the first 512 bytes of path.
func Detect(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnsupported, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindUnsupported, err
	}
	contentType := http.DetectContentType(buf[:n])
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage, nil
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo, nil
	}
	return KindUnsupported, nil
}

// Media is a source file that can render a thumbnail of itself.
type Media interface {
	Path() string
	Kind() Kind
	Thumbnail(ctx context.Context, dst string, width, height uint) error
}

// FrameExtractor grabs a representative still from a video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, path string) (image.Image, error)
}

// Option configures Open.
type Option func(*options)

type options struct {
	extractor FrameExtractor
}

// WithFrameExtractor overrides the video frame extractor.
func WithFrameExtractor(fe FrameExtractor) Option {
	return func(o *options) {
		if fe != nil {
			o.extractor = fe
		}
	}
}

// Open detects the kind of path and returns the matching Media.
func Open(path string, opts ...Option) (Media, error) {
	o := options{extractor: FFmpegFrameExtractor{}}
	for _, opt := range opts {
		opt(&o)
	}

	kind, err := Detect(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindImage:
		return imageMedia{path: path}, nil
	case KindVideo:
		return videoMedia{path: path, extractor: o.extractor}, nil
	}
	return unsupportedMedia{path: path}, nil
}

type imageMedia struct {
	path string
}

func (m imageMedia) Path() string { return m.path }
func (m imageMedia) Kind() Kind   { return KindImage }

func (m imageMedia) Thumbnail(ctx context.Context, dst string, width, height uint) error {
	img, err := decodeFile(m.path)
	if err != nil {
		return err
	}
	return writeJPEG(dst, resize.Thumbnail(width, height, img, resize.Lanczos3), ThumbnailQuality)
}

type videoMedia struct {
	path      string
	extractor FrameExtractor
}

func (m videoMedia) Path() string { return m.path }
func (m videoMedia) Kind() Kind   { return KindVideo }

func (m videoMedia) Thumbnail(ctx context.Context, dst string, width, height uint) error {
	frame, err := m.extractor.ExtractFrame(ctx, m.path)
	if err != nil {
		return fmt.Errorf("failed to extract frame from %s: %w", filepath.Base(m.path), err)
	}
	return writeJPEG(dst, resize.Thumbnail(width, height, frame, resize.Lanczos3), ThumbnailQuality)
}

type unsupportedMedia struct {
	path string
}

func (m unsupportedMedia) Path() string { return m.path }
func (m unsupportedMedia) Kind() Kind   { return KindUnsupported }

func (m unsupportedMedia) Thumbnail(context.Context, string, uint, uint) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedMedia, filepath.Base(m.path))
}

// FFmpegFrameExtractor pipes the first video frame out of ffmpeg as JPEG.
type FFmpegFrameExtractor struct {
	Binary string // default: ffmpeg on PATH
}

func (f FFmpegFrameExtractor) ExtractFrame(ctx context.Context, path string) (image.Image, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Downscale writes a JPEG rendition of the image at src to dst, bounded by
// maxW x maxH with aspect ratio kept. Smaller images are only re-encoded.
func Downscale(src, dst string, maxW, maxH uint, quality int) error {
	img, err := decodeFile(src)
	if err != nil {
		return err
	}
	return writeJPEG(dst, resize.Thumbnail(maxW, maxH, img, resize.Lanczos3), quality)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", filepath.Base(path), ErrUndecodable, err)
	}
	return img, nil
}

func writeJPEG(dst string, img image.Image, quality int) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(dst), err)
	}
	return out.Close()
}

package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	if filepath.Ext(path) == ".png" {
		require.NoError(t, png.Encode(f, img))
		return
	}
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

// webmHeader is the EBML magic followed by a webm doctype.
var webmHeader = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01, 0x42, 0xF7, 0x81, 0x01,
	0x42, 0xF2, 0x81, 0x04, 0x42, 0xF3, 0x81, 0x08, 0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}

func TestDetect(t *testing.T) {
	dir := t.TempDir()

	img := filepath.Join(dir, "a.jpg")
	writeTestImage(t, img, 10, 10)
	kind, err := Detect(img)
	require.NoError(t, err)
	assert.Equal(t, KindImage, kind)

	vid := filepath.Join(dir, "v.webm")
	require.NoError(t, os.WriteFile(vid, webmHeader, 0o644))
	kind, err = Detect(vid)
	require.NoError(t, err)
	assert.Equal(t, KindVideo, kind)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	kind, err = Detect(txt)
	require.NoError(t, err)
	assert.Equal(t, KindUnsupported, kind)
	assert.Equal(t, "unsupported", kind.String())

	_, err = Detect(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestImageThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wide.png")
	writeTestImage(t, src, 800, 400)

	m, err := Open(src)
	require.NoError(t, err)
	assert.Equal(t, KindImage, m.Kind())

	dst := filepath.Join(dir, "thumbs", "wide.png.jpg")
	require.NoError(t, m.Thumbnail(context.Background(), dst, ThumbnailWidth, ThumbnailHeight))

	w, h := decodeSize(t, dst)
	assert.LessOrEqual(t, w, ThumbnailWidth)
	assert.LessOrEqual(t, h, ThumbnailHeight)
	assert.Equal(t, 2*h, w, "aspect ratio kept")
}

type stubExtractor struct {
	img image.Image
	err error
}

func (s stubExtractor) ExtractFrame(context.Context, string) (image.Image, error) {
	return s.img, s.err
}

func TestVideoThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.webm")
	require.NoError(t, os.WriteFile(src, webmHeader, 0o644))

	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	m, err := Open(src, WithFrameExtractor(stubExtractor{img: frame}))
	require.NoError(t, err)
	assert.Equal(t, KindVideo, m.Kind())

	dst := filepath.Join(dir, "clip.webm.jpg")
	require.NoError(t, m.Thumbnail(context.Background(), dst, ThumbnailWidth, ThumbnailHeight))
	w, h := decodeSize(t, dst)
	assert.Equal(t, 256, w)
	assert.Equal(t, 192, h)

	failing, err := Open(src, WithFrameExtractor(stubExtractor{err: errors.New("no frames")}))
	require.NoError(t, err)
	assert.Error(t, failing.Thumbnail(context.Background(), dst, 10, 10))
}

func TestUnsupportedThumbnail(t *testing.T) {
	src := filepath.Join(t.TempDir(), "x.bin")
	require.NoError(t, os.WriteFile(src, []byte("plain text"), 0o644))

	m, err := Open(src)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Thumbnail(context.Background(), src+".jpg", 10, 10), ErrUnsupportedMedia)
}

func TestDownscale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tall.jpg")
	writeTestImage(t, src, 200, 600)

	dst := filepath.Join(dir, "previews", "tall.jpg")
	require.NoError(t, Downscale(src, dst, 100, 100, PreviewQuality))
	w, h := decodeSize(t, dst)
	assert.LessOrEqual(t, w, 100)
	assert.Equal(t, 100, h)

	small := filepath.Join(dir, "small.jpg")
	require.NoError(t, Downscale(src, small, PreviewWidth, PreviewHeight, PreviewQuality))
	w, h = decodeSize(t, small)
	assert.Equal(t, 200, w, "smaller images keep their size")
	assert.Equal(t, 600, h)
}

func TestDownscale_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("not a jpeg"), 0o644))
	err := Downscale(garbage, filepath.Join(dir, "out.jpg"), 10, 10, PreviewQuality)
	assert.ErrorIs(t, err, ErrUndecodable)

	src := filepath.Join(dir, "ok.jpg")
	writeTestImage(t, src, 20, 20)
	occupied := filepath.Join(dir, "occupied.jpg")
	require.NoError(t, os.MkdirAll(filepath.Join(occupied, "x"), 0o755))
	err = Downscale(src, occupied, 10, 10, PreviewQuality)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUndecodable)
}

func TestPassthroughSanitizer(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "sanitized")
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.jpg"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.WEBM"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "c.heic"), []byte("c"), 0o644))

	require.NoError(t, PassthroughSanitizer{}.Sanitize(context.Background(), src, dst))

	_, err := os.Stat(filepath.Join(dst, "a.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, "b.WEBM"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(src, "c.heic"))
	assert.NoError(t, err, "non-canonical files stay for a real sanitizer")
}

package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/chunker"
	"github.com/tendant/shardmedia/pkg/shardmedia/crypt"
	"github.com/tendant/shardmedia/pkg/shardmedia/gateway"
	"github.com/tendant/shardmedia/pkg/shardmedia/keywrap"
	"github.com/tendant/shardmedia/pkg/shardmedia/media"
	repomemory "github.com/tendant/shardmedia/pkg/shardmedia/repo/memory"
	"github.com/tendant/shardmedia/pkg/shardmedia/storage/memory"
)

var webmHeader = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01, 0x42, 0xF7, 0x81, 0x01,
	0x42, 0xF2, 0x81, 0x04, 0x42, 0xF3, 0x81, 0x08, 0x42, 0x82, 0x84, 'w', 'e', 'b', 'm'}

type stubExtractor struct{}

func (stubExtractor) ExtractFrame(context.Context, string) (image.Image, error) {
	return testImage(640, 480), nil
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 64, 255})
		}
	}
	return img
}

type testEnv struct {
	layout   shardmedia.Layout
	cacheDir string
	repo     *repomemory.Repository
	wrapper  *keywrap.Wrapper
	transfer *memory.Backend
}

func newTestEnv(t *testing.T, logins ...string) *testEnv {
	t.Helper()
	key, err := crypt.GenerateNonce()
	require.NoError(t, err)
	iv, err := crypt.GenerateNonce()
	require.NoError(t, err)
	wrapper, err := keywrap.New(keywrap.MasterSecret{Key: key, Nonce: iv})
	require.NoError(t, err)

	repo := repomemory.New()
	for _, login := range logins {
		account, err := wrapper.NewAccount(login, "secret-"+login)
		require.NoError(t, err)
		require.NoError(t, repo.CreateAccount(context.Background(), account))
	}

	return &testEnv{
		layout:   shardmedia.Layout{Root: t.TempDir()},
		cacheDir: t.TempDir(),
		repo:     repo,
		wrapper:  wrapper,
		transfer: memory.New(),
	}
}

func (e *testEnv) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{
		WithFrameExtractor(stubExtractor{}),
		WithCacheDir(e.cacheDir),
		WithChunker(chunker.New(chunker.WithRand(rand.New(rand.NewPCG(1, 2))))),
	}, opts...)
	p, err := New(e.repo, e.wrapper, e.transfer, e.layout, opts...)
	require.NoError(t, err)
	return p
}

func (e *testEnv) gateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	g, err := gateway.New(e.repo, e.wrapper, e.transfer, gateway.WithCacheDir(e.cacheDir))
	require.NoError(t, err)
	return g
}

func writeVideo(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	r := rand.New(rand.NewPCG(7, 7))
	for i := range data {
		data[i] = byte(r.Uint32())
	}
	copy(data, webmHeader)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, testImage(w, h), nil))
}

func readAll(t *testing.T, s *gateway.Stream) []byte {
	t.Helper()
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	return data
}

func TestNew_Validation(t *testing.T) {
	env := newTestEnv(t, "one")

	_, err := New(nil, env.wrapper, env.transfer, env.layout)
	assert.Error(t, err)

	_, err = New(env.repo, env.wrapper, env.transfer, shardmedia.Layout{})
	assert.Error(t, err)
}

func TestRun_NoAccounts(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline(t).Run(context.Background())
	assert.ErrorIs(t, err, shardmedia.ErrNoAccounts)
}

func TestRun_VideoEndToEnd(t *testing.T) {
	env := newTestEnv(t, "one")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())

	source := writeVideo(t, filepath.Join(env.layout.SanitizedDir(), "clip.webm"), 5<<20)

	report, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Videos)
	assert.Equal(t, 1, report.Thumbnails)
	assert.Equal(t, 1, report.Transferred)
	assert.GreaterOrEqual(t, report.Chunks, 3)
	assert.Equal(t, report.Chunks, report.Placed)

	records, err := env.repo.ListObjects(ctx, shardmedia.ListObjectsRequest{})
	require.NoError(t, err)
	require.Len(t, records, report.Chunks)
	for i, r := range records {
		assert.Equal(t, shardmedia.ChunkName("clip.webm", i), r.Name)
	}

	g := env.gateway(t)

	// head chunk comes from the published cache without touching storage
	before := env.transfer.Gets()
	head, err := g.Open(ctx, gateway.Request{Name: "clip.webm", ChunkIndex: intPtr(0)})
	require.NoError(t, err)
	assert.True(t, head.FastPath)
	headData := readAll(t, head)
	assert.Equal(t, before, env.transfer.Gets())

	var rebuilt bytes.Buffer
	rebuilt.Write(headData)
	for i := 1; i < report.Chunks; i++ {
		s, err := g.Open(ctx, gateway.Request{Name: "clip.webm", ChunkIndex: intPtr(i)})
		require.NoError(t, err)
		assert.False(t, s.FastPath)
		rebuilt.Write(readAll(t, s))
	}
	assert.Equal(t, source, rebuilt.Bytes())

	thumb, err := g.OpenThumbnail("clip_0000.webm")
	require.NoError(t, err)
	thumb.Body.Close()
}

func TestRun_ClearsStagingAndPublishes(t *testing.T) {
	env := newTestEnv(t, "one", "two")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())

	writeJPEG(t, filepath.Join(env.layout.SanitizedDir(), "IMG_20240102_030405.jpg"), 2000, 1500)
	writeJPEG(t, filepath.Join(env.layout.SanitizedDir(), "b.jpg"), 64, 48)

	report, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Images)
	assert.Equal(t, 2, report.Previews)
	assert.Equal(t, 2, report.Placed)
	assert.Equal(t, 2, report.Transferred)
	assert.Equal(t, 4, report.Published)

	for _, dir := range []string{env.layout.SanitizedDir(), env.layout.ChunkDir(), env.layout.PreviewDir(), env.layout.ThumbnailDir()} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, dir)
	}

	accounts, err := env.repo.ListAccounts(ctx)
	require.NoError(t, err)
	for _, a := range accounts {
		entries, err := os.ReadDir(env.layout.AccountDir(a.ID))
		require.NoError(t, err)
		assert.Empty(t, entries)

		keys := env.transfer.Keys(a.ID)
		assert.Contains(t, keys, "Root/"+crypt.Hash(a.ID, nil), "metadata backup uploaded for %s", a.ID)
	}

	// preview was downscaled before publishing
	f, err := os.Open(filepath.Join(env.cacheDir, shardmedia.PreviewDirName, "IMG_20240102_030405.jpg"))
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, media.PreviewWidth)
	assert.LessOrEqual(t, cfg.Height, media.PreviewHeight)

	// a second run over an empty sanitized directory is a no-op placement
	report, err = env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Placed)
}

func TestRun_MetadataBackupDecrypts(t *testing.T) {
	env := newTestEnv(t, "one")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())
	writeJPEG(t, filepath.Join(env.layout.SanitizedDir(), "a.jpg"), 32, 32)

	_, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)

	accounts, err := env.repo.ListAccounts(ctx)
	require.NoError(t, err)
	cred, err := env.wrapper.UnwrapAccount(accounts[0])
	require.NoError(t, err)

	rc, err := env.transfer.Get(ctx, cred, "/Root/"+crypt.Hash(accounts[0].ID, nil))
	require.NoError(t, err)
	defer rc.Close()
	plain, err := env.wrapper.Encrypter().DecryptReader(rc, nil)
	require.NoError(t, err)
	dump, err := io.ReadAll(plain)
	require.NoError(t, err)
	assert.Contains(t, string(dump), `"a.jpg"`)
}

func TestRun_Sanitizes(t *testing.T) {
	env := newTestEnv(t, "one")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())
	writeJPEG(t, filepath.Join(env.layout.UnprocessedDir(), "raw.jpg"), 32, 32)
	require.NoError(t, os.WriteFile(filepath.Join(env.layout.UnprocessedDir(), "notes.txt"), []byte("x"), 0o644))

	report, err := env.pipeline(t, WithSanitizer(media.PassthroughSanitizer{})).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Placed)

	_, err = env.repo.GetObject(ctx, "raw.jpg")
	assert.NoError(t, err)
	assert.FileExists(t, filepath.Join(env.layout.UnprocessedDir(), "notes.txt"))
}

func TestRun_SkipsUndecodablePreview(t *testing.T) {
	env := newTestEnv(t, "one")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())
	writeJPEG(t, filepath.Join(env.layout.SanitizedDir(), "a.jpg"), 32, 32)
	require.NoError(t, os.WriteFile(filepath.Join(env.layout.SanitizedDir(), "broken.jpg"), []byte("truncated"), 0o644))

	report, err := env.pipeline(t).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Images)
	assert.Equal(t, 1, report.Previews)
	assert.Equal(t, 2, report.Placed)
}

func TestRun_PreviewWriteFailureAborts(t *testing.T) {
	env := newTestEnv(t, "one")
	ctx := context.Background()
	require.NoError(t, env.layout.Ensure())
	src := filepath.Join(env.layout.SanitizedDir(), "a.jpg")
	writeJPEG(t, src, 32, 32)
	// a directory where the preview file must go
	require.NoError(t, os.MkdirAll(filepath.Join(env.layout.PreviewDir(), "a.jpg", "x"), 0o755))

	report, err := env.pipeline(t).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write preview of a.jpg")
	assert.Equal(t, 0, report.Placed)
	assert.FileExists(t, src, "source is kept for the next run")

	_, err = env.repo.GetObject(ctx, "a.jpg")
	assert.ErrorIs(t, err, shardmedia.ErrObjectNotFound)
}

func intPtr(i int) *int { return &i }

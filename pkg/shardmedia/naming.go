package shardmedia

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Canonical formats produced by the upstream sanitizer.
const (
	ImageExt = ".jpg"
	VideoExt = ".webm"
)

// PreviewSuffix is appended to a logical name before hashing to address the
// preview companion of the same source object.
const PreviewSuffix = ".preview"

// HeadChunkIndex is the chunk kept on the fast path for videos.
const HeadChunkIndex = 0

var (
	chunkNamePattern   = regexp.MustCompile(`^(.*)_(\d{4})(\.[^.]+)$`)
	captureTimePattern = regexp.MustCompile(`\d{8}_\d{6}`)
)

// ChunkName returns the logical name of chunk index of name:
// "clip.webm", 3 -> "clip_0003.webm".
func ChunkName(name string, index int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%04d%s", strings.TrimSuffix(name, ext), index, ext)
}

// ParseChunkName reverses ChunkName. ok is false when name carries no chunk index.
func ParseChunkName(name string) (base string, index int, ok bool) {
	m := chunkNamePattern.FindStringSubmatch(name)
	if m == nil {
		return name, 0, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return name, 0, false
	}
	return m[1] + m[3], index, true
}

// IsImage reports whether name is a canonical image.
func IsImage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ImageExt)
}

// IsVideo reports whether name is a canonical video or video chunk.
func IsVideo(name string) bool {
	return strings.EqualFold(filepath.Ext(name), VideoExt)
}

// IsHeadChunk reports whether name is chunk 0 of a chunked video.
func IsHeadChunk(name string) bool {
	if !IsVideo(name) {
		return false
	}
	_, index, ok := ParseChunkName(name)
	return ok && index == HeadChunkIndex
}

// IsTrailingChunk reports whether name is a video chunk other than the head
// chunk. Galleries list a chunked video once, by its head chunk.
func IsTrailingChunk(name string) bool {
	if !IsVideo(name) {
		return false
	}
	_, index, ok := ParseChunkName(name)
	return ok && index != HeadChunkIndex
}

// IsHeadUnit reports whether name is the unit that carries the fast-path
// companion: a whole image, or the head chunk of a video.
func IsHeadUnit(name string) bool {
	return IsImage(name) || IsHeadChunk(name)
}

// PreviewKey is the hash input addressing the preview companion of name.
func PreviewKey(name string) string {
	return name + PreviewSuffix
}

// ThumbnailName returns the gallery thumbnail file name for an object.
// Chunked videos share one thumbnail named after the unchunked source.
func ThumbnailName(name string) string {
	if IsVideo(name) {
		if base, _, ok := ParseChunkName(name); ok {
			name = base
		}
	}
	return name + ".jpg"
}

// CaptureTime extracts a YYYYMMDD_HHMMSS capture time embedded in name,
// falling back to now.
func CaptureTime(name string, now time.Time) time.Time {
	if match := captureTimePattern.FindString(name); match != "" {
		if t, err := time.ParseInLocation("20060102_150405", match, time.Local); err == nil {
			return t
		}
	}
	return now
}

// ParseDate accepts a YYYY-MM-DD day, read as local midnight like capture
// times, or an RFC3339 timestamp.
func ParseDate(raw string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", raw)
	}
	return t, nil
}

// ContentType derives the media type served for a logical name.
func ContentType(name string) string {
	switch {
	case IsVideo(name):
		return "video/webm"
	case IsImage(name):
		return "image/jpeg"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

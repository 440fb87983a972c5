// Package crypt implements the AES-128-CTR stream transforms and the salted
// name hash that derives remote object names.
//
// Counter mode makes every transform a pure function of (key, iv, byte
// offset): output length equals input length, input may arrive in chunks of
// any size, and a stream can be resumed at any offset with StreamAt.
// No authentication tag is produced or checked.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// KeySize and NonceSize are fixed by the 128-bit block cipher.
const (
	KeySize   = 16
	NonceSize = aes.BlockSize
)

// DefaultChunkSize is the read granularity of the file transforms.
const DefaultChunkSize = 1024

// ErrInvalidKeyMaterial indicates a key or nonce of the wrong length.
var ErrInvalidKeyMaterial = errors.New("invalid key material")

// Encrypter holds a key and a base iv. Every method takes an optional iv;
// nil selects the base iv.
type Encrypter struct {
	block     cipher.Block
	iv        []byte
	chunkSize int
}

// Option configures an Encrypter.
type Option func(*Encrypter)

// WithChunkSize sets the read granularity of EncryptFile and DecryptFile.
func WithChunkSize(n int) Option {
	return func(e *Encrypter) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// New creates an Encrypter for a 16-byte key and 16-byte base iv.
func New(key, iv []byte, opts ...Option) (*Encrypter, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKeyMaterial, KeySize, len(key))
	}
	if err := checkNonce(iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	e := &Encrypter{
		block:     block,
		iv:        append([]byte(nil), iv...),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func checkNonce(iv []byte) error {
	if len(iv) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrInvalidKeyMaterial, NonceSize, len(iv))
	}
	return nil
}

func (e *Encrypter) pick(iv []byte) ([]byte, error) {
	if iv == nil {
		return e.iv, nil
	}
	if err := checkNonce(iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// Stream returns a fresh keystream starting at offset 0.
func (e *Encrypter) Stream(iv []byte) (cipher.Stream, error) {
	return e.StreamAt(iv, 0)
}

// StreamAt returns a keystream positioned at byte offset. Decrypting a
// suffix of a ciphertext with StreamAt(iv, n) yields the same bytes as
// decrypting the whole ciphertext and discarding the first n.
func (e *Encrypter) StreamAt(iv []byte, offset int64) (cipher.Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative stream offset %d", offset)
	}
	iv, err := e.pick(iv)
	if err != nil {
		return nil, err
	}

	counter := addCounter(iv, uint64(offset/aes.BlockSize))
	stream := cipher.NewCTR(e.block, counter)
	if skip := int(offset % aes.BlockSize); skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	return stream, nil
}

// addCounter adds n to iv read as a 128-bit big-endian integer, wrapping
// the way the CTR counter itself does.
func addCounter(iv []byte, n uint64) []byte {
	out := make([]byte, NonceSize)
	hi := binary.BigEndian.Uint64(iv[:8])
	lo := binary.BigEndian.Uint64(iv[8:])
	sum := lo + n
	if sum < lo {
		hi++
	}
	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], sum)
	return out
}

// EncryptReader returns a reader yielding the ciphertext of r.
func (e *Encrypter) EncryptReader(r io.Reader, iv []byte) (io.Reader, error) {
	stream, err := e.Stream(iv)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamReader{S: stream, R: r}, nil
}

// DecryptReader returns a reader yielding the plaintext of r.
func (e *Encrypter) DecryptReader(r io.Reader, iv []byte) (io.Reader, error) {
	return e.EncryptReader(r, iv)
}

// EncryptWriter returns a writer that encrypts into w. Closing it closes w
// when w is an io.Closer.
func (e *Encrypter) EncryptWriter(w io.Writer, iv []byte) (io.WriteCloser, error) {
	stream, err := e.Stream(iv)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamWriter{S: stream, W: w}, nil
}

// Encrypt transforms a whole buffer.
func (e *Encrypter) Encrypt(data []byte, iv []byte) ([]byte, error) {
	stream, err := e.Stream(iv)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// Decrypt transforms a whole buffer.
func (e *Encrypter) Decrypt(data []byte, iv []byte) ([]byte, error) {
	return e.Encrypt(data, iv)
}

// EncryptFile writes the ciphertext of src to dst, reading chunkSize bytes at a time.
func (e *Encrypter) EncryptFile(src, dst string, iv []byte) (int64, error) {
	return e.cryptFile(src, dst, iv)
}

// DecryptFile writes the plaintext of src to dst.
func (e *Encrypter) DecryptFile(src, dst string, iv []byte) (int64, error) {
	return e.cryptFile(src, dst, iv)
}

func (e *Encrypter) cryptFile(src, dst string, iv []byte) (int64, error) {
	stream, err := e.Stream(iv)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}

	buf := make([]byte, e.chunkSize)
	// hide os.File's WriterTo so reads honour chunkSize
	n, err := io.CopyBuffer(&cipher.StreamWriter{S: stream, W: out}, struct{ io.Reader }{in}, buf)
	if err != nil {
		out.Close()
		return n, fmt.Errorf("failed to transform %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("failed to close destination: %w", err)
	}
	return n, nil
}

// Hash returns hex(sha256(name + hex(salt))). A nil salt hashes the name alone.
func Hash(name string, salt []byte) string {
	sum := sha256.Sum256([]byte(name + hex.EncodeToString(salt)))
	return hex.EncodeToString(sum[:])
}

// GenerateNonce returns 16 cryptographically random bytes.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

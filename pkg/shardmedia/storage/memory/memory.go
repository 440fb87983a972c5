package memory

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/storage"
)

// Backend is an in-memory implementation of the shardmedia.Transfer interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte // login -> key -> bytes

	puts atomic.Int64
	gets atomic.Int64
}

// New creates a new in-memory transfer backend
func New() *Backend {
	return &Backend{objects: make(map[string]map[string][]byte)}
}

// Put reads every local file into memory under remotePath
func (b *Backend) Put(ctx context.Context, cred shardmedia.Credential, localPath, remotePath string) error {
	b.puts.Add(1)

	files, err := storage.LocalFiles(localPath)
	if err != nil {
		return &shardmedia.StorageError{Backend: "memory", Account: cred.Login, Key: localPath, Op: "put", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	account, ok := b.objects[cred.Login]
	if !ok {
		account = make(map[string][]byte)
		b.objects[cred.Login] = account
	}
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return &shardmedia.StorageError{Backend: "memory", Account: cred.Login, Key: f.Rel, Op: "put", Err: err}
		}
		account[storage.Key(remotePath, f.Rel)] = data
	}
	return nil
}

// Get returns the stored bytes
func (b *Backend) Get(ctx context.Context, cred shardmedia.Credential, remoteName string) (io.ReadCloser, error) {
	b.gets.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[cred.Login][storage.Key(remoteName)]
	if !exists {
		return nil, &shardmedia.StorageError{Backend: "memory", Account: cred.Login, Key: remoteName, Op: "get", Err: shardmedia.ErrObjectNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys lists the keys stored for an account.
func (b *Backend) Keys(login string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects[login]))
	for k := range b.objects[login] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts reports how many Put calls were made.
func (b *Backend) Puts() int64 { return b.puts.Load() }

// Gets reports how many Get calls were made.
func (b *Backend) Gets() int64 { return b.gets.Load() }

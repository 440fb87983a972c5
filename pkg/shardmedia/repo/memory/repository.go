package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

// Repository implements shardmedia.Repository using in-memory storage
type Repository struct {
	mu         sync.RWMutex
	accounts   map[string]*shardmedia.Account
	accountIDs []string // insertion order, the round-robin order
	objects    map[string]*shardmedia.ObjectRecord
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		accounts: make(map[string]*shardmedia.Account),
		objects:  make(map[string]*shardmedia.ObjectRecord),
	}
}

// Account operations

func (r *Repository) CreateAccount(ctx context.Context, account *shardmedia.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[account.ID]; exists {
		return shardmedia.ErrDuplicateAccount
	}

	// Create a copy to avoid external modifications
	accountCopy := copyAccount(account)
	r.accounts[account.ID] = accountCopy
	r.accountIDs = append(r.accountIDs, account.ID)
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*shardmedia.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, shardmedia.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]*shardmedia.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*shardmedia.Account, 0, len(r.accountIDs))
	for _, id := range r.accountIDs {
		result = append(result, copyAccount(r.accounts[id]))
	}
	return result, nil
}

// Object operations

func (r *Repository) CreateObject(ctx context.Context, record *shardmedia.ObjectRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[record.Name]; exists {
		return shardmedia.ErrDuplicateObject
	}
	r.objects[record.Name] = copyObject(record)
	return nil
}

func (r *Repository) GetObject(ctx context.Context, name string) (*shardmedia.ObjectRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.objects[name]
	if !exists {
		return nil, shardmedia.ErrObjectNotFound
	}
	return copyObject(record), nil
}

func (r *Repository) ListObjects(ctx context.Context, req shardmedia.ListObjectsRequest) ([]*shardmedia.ObjectRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*shardmedia.ObjectRecord
	for _, record := range r.objects {
		if req.AccountID != "" && record.AccountID != req.AccountID {
			continue
		}
		if req.CreatedAfter != nil && record.CreatedAt.Before(*req.CreatedAfter) {
			continue
		}
		if req.CreatedBefore != nil && record.CreatedAt.After(*req.CreatedBefore) {
			continue
		}
		if req.SkipTrailingChunks && shardmedia.IsTrailingChunk(record.Name) {
			continue
		}
		result = append(result, copyObject(record))
	}

	// Sort by created_at, then name
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if req.NewestFirst {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})

	if req.Offset > 0 {
		if req.Offset >= len(result) {
			return []*shardmedia.ObjectRecord{}, nil
		}
		result = result[req.Offset:]
	}
	if req.Limit > 0 && req.Limit < len(result) {
		result = result[:req.Limit]
	}
	return result, nil
}

// Snapshot writes the repository as JSON to dst.
func (r *Repository) Snapshot(ctx context.Context, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := shardmedia.DumpJSON(ctx, r, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyAccount(a *shardmedia.Account) *shardmedia.Account {
	c := *a
	c.WrappedCredential = append([]byte(nil), a.WrappedCredential...)
	c.WrappedNonce = append([]byte(nil), a.WrappedNonce...)
	return &c
}

func copyObject(o *shardmedia.ObjectRecord) *shardmedia.ObjectRecord {
	c := *o
	c.WrappedKey = append([]byte(nil), o.WrappedKey...)
	return &c
}

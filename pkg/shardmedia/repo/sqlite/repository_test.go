package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	repo, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_Accounts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, repo.CreateAccount(ctx, &shardmedia.Account{
			ID:                id,
			WrappedCredential: []byte("cred-" + id),
			WrappedNonce:      []byte("nonce-" + id),
			CreatedAt:         time.Now().UTC(),
		}))
	}

	err := repo.CreateAccount(ctx, &shardmedia.Account{ID: "alpha", WrappedCredential: []byte("x"), WrappedNonce: []byte("y")})
	assert.ErrorIs(t, err, shardmedia.ErrDuplicateAccount)

	accounts, err := repo.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, []string{accounts[0].ID, accounts[1].ID, accounts[2].ID})

	got, err := repo.GetAccount(ctx, "mid")
	require.NoError(t, err)
	assert.Equal(t, []byte("cred-mid"), got.WrappedCredential)
	assert.Equal(t, []byte("nonce-mid"), got.WrappedNonce)

	_, err = repo.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, shardmedia.ErrAccountNotFound)
}

func TestSQLiteRepository_Objects(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 5, 7, 55, 45, 0, time.UTC)

	names := []string{"a.jpg", "clip_0000.webm", "clip_0001.webm", "clip_0002.webm"}
	for i, name := range names {
		require.NoError(t, repo.CreateObject(ctx, &shardmedia.ObjectRecord{
			Name:       name,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			AccountID:  []string{"one", "two"}[i%2],
			WrappedKey: []byte{byte(i), 0xff},
		}))
	}

	err := repo.CreateObject(ctx, &shardmedia.ObjectRecord{Name: "a.jpg", CreatedAt: base, AccountID: "two", WrappedKey: []byte{1}})
	assert.ErrorIs(t, err, shardmedia.ErrDuplicateObject)

	record, err := repo.GetObject(ctx, "clip_0001.webm")
	require.NoError(t, err)
	assert.Equal(t, "two", record.AccountID)
	assert.Equal(t, []byte{1, 0xff}, record.WrappedKey)
	assert.True(t, base.Add(time.Second).Equal(record.CreatedAt))

	_, err = repo.GetObject(ctx, "nope.jpg")
	assert.ErrorIs(t, err, shardmedia.ErrObjectNotFound)

	all, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a.jpg", all[0].Name)

	byAccount, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{AccountID: "one"})
	require.NoError(t, err)
	assert.Len(t, byAccount, 2)

	skipped, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{Offset: 3})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "clip_0002.webm", skipped[0].Name)

	page, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "clip_0000.webm", page[0].Name)

	cutoff := base.Add(time.Second)
	gallery, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{
		NewestFirst:        true,
		SkipTrailingChunks: true,
		CreatedBefore:      &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, gallery, 2)
	assert.Equal(t, "clip_0000.webm", gallery[0].Name)
	assert.Equal(t, "a.jpg", gallery[1].Name)
}

func TestSQLiteRepository_SnapshotReopens(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(ctx, filepath.Join(dir, "database.db"))
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.CreateAccount(ctx, &shardmedia.Account{ID: "acct", WrappedCredential: []byte("c"), WrappedNonce: []byte("n"), CreatedAt: time.Now()}))
	require.NoError(t, repo.CreateObject(ctx, &shardmedia.ObjectRecord{Name: "x.jpg", CreatedAt: time.Now(), AccountID: "acct", WrappedKey: []byte("k")}))

	dst := filepath.Join(dir, "backup", "snapshot.db")
	require.NoError(t, ensureDir(dst))
	require.NoError(t, repo.Snapshot(ctx, dst))
	// a second snapshot replaces the first
	require.NoError(t, repo.Snapshot(ctx, dst))

	copyRepo, err := Open(ctx, dst)
	require.NoError(t, err)
	defer copyRepo.Close()

	record, err := copyRepo.GetObject(ctx, "x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "acct", record.AccountID)
}

package memory_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/shardmedia/pkg/shardmedia"
	"github.com/tendant/shardmedia/pkg/shardmedia/repo/memory"
)

func TestMemoryRepository_AccountOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		account := &shardmedia.Account{
			ID:                "first@example.com",
			WrappedCredential: []byte("cred"),
			WrappedNonce:      []byte("nonce"),
			CreatedAt:         time.Now(),
		}
		require.NoError(t, repo.CreateAccount(ctx, account))

		got, err := repo.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.WrappedCredential, got.WrappedCredential)

		// copies do not leak internal state
		got.WrappedCredential[0] = 'X'
		again, err := repo.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("cred"), again.WrappedCredential)
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := repo.CreateAccount(ctx, &shardmedia.Account{ID: "first@example.com"})
		assert.ErrorIs(t, err, shardmedia.ErrDuplicateAccount)
	})

	t.Run("NotFound", func(t *testing.T) {
		account, err := repo.GetAccount(ctx, "missing")
		assert.Nil(t, account)
		assert.Equal(t, shardmedia.ErrAccountNotFound, err)
	})

	t.Run("ListKeepsInsertionOrder", func(t *testing.T) {
		require.NoError(t, repo.CreateAccount(ctx, &shardmedia.Account{ID: "b"}))
		require.NoError(t, repo.CreateAccount(ctx, &shardmedia.Account{ID: "a"}))

		accounts, err := repo.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 3)
		assert.Equal(t, "first@example.com", accounts[0].ID)
		assert.Equal(t, "b", accounts[1].ID)
		assert.Equal(t, "a", accounts[2].ID)
	})
}

func TestMemoryRepository_ObjectOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	base := time.Date(2024, 5, 5, 7, 55, 45, 0, time.UTC)

	for i, name := range []string{"c.jpg", "a.jpg", "b_0000.webm", "b_0001.webm"} {
		require.NoError(t, repo.CreateObject(ctx, &shardmedia.ObjectRecord{
			Name:       name,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			AccountID:  []string{"x", "y"}[i%2],
			WrappedKey: []byte{byte(i)},
		}))
	}

	t.Run("Get", func(t *testing.T) {
		record, err := repo.GetObject(ctx, "a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "y", record.AccountID)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetObject(ctx, "missing.jpg")
		assert.ErrorIs(t, err, shardmedia.ErrObjectNotFound)
	})

	t.Run("DuplicateName", func(t *testing.T) {
		err := repo.CreateObject(ctx, &shardmedia.ObjectRecord{Name: "a.jpg"})
		assert.ErrorIs(t, err, shardmedia.ErrDuplicateObject)
	})

	t.Run("ListFilters", func(t *testing.T) {
		all, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "c.jpg", all[0].Name)

		byAccount, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{AccountID: "x"})
		require.NoError(t, err)
		assert.Len(t, byAccount, 2)

		after := base.Add(90 * time.Minute)
		recent, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{CreatedAfter: &after})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		page, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{Offset: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "a.jpg", page[0].Name)

		empty, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Gallery", func(t *testing.T) {
		gallery, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{NewestFirst: true, SkipTrailingChunks: true})
		require.NoError(t, err)
		require.Len(t, gallery, 3)
		assert.Equal(t, []string{"b_0000.webm", "a.jpg", "c.jpg"},
			[]string{gallery[0].Name, gallery[1].Name, gallery[2].Name})

		page, err := repo.ListObjects(ctx, shardmedia.ListObjectsRequest{NewestFirst: true, SkipTrailingChunks: true, Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "a.jpg", page[0].Name)
	})

	t.Run("Snapshot", func(t *testing.T) {
		require.NoError(t, repo.CreateAccount(ctx, &shardmedia.Account{ID: "x"}))
		dst := filepath.Join(t.TempDir(), "database.json")
		require.NoError(t, repo.Snapshot(ctx, dst))

		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		var dump shardmedia.Dump
		require.NoError(t, json.Unmarshal(data, &dump))
		assert.Len(t, dump.Accounts, 1)
		assert.Len(t, dump.Objects, 4)
	})
}

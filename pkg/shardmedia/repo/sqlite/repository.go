// Package sqlite stores accounts and object records in a single SQLite
// file through bun. The file itself is what gets backed up to every
// account after an upload run.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tendant/shardmedia/pkg/shardmedia"
)

type accountModel struct {
	bun.BaseModel `bun:"table:accounts"`

	ID                string    `bun:",pk"`
	WrappedCredential []byte    `bun:",notnull"`
	WrappedNonce      []byte    `bun:",notnull"`
	CreatedAt         time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type objectModel struct {
	bun.BaseModel `bun:"table:objects"`

	Name       string    `bun:",pk"`
	CreatedAt  time.Time `bun:",notnull"`
	AccountID  string    `bun:",notnull"`
	WrappedKey []byte    `bun:",notnull"`
}

// Repository implements shardmedia.Repository on SQLite.
type Repository struct {
	db *bun.DB
}

// Open opens (creating if needed) the database at dsn and ensures the
// schema. A plain path is accepted as well as a "file:" DSN.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := New(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := repo.Migrate(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an existing bun database.
func New(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *bun.DB {
	return r.db
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	models := []any{
		(*accountModel)(nil),
		(*objectModel)(nil),
	}
	for _, model := range models {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := r.db.NewCreateIndex().
		Model((*objectModel)(nil)).
		Index("objects_account_id_idx").
		Column("account_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *Repository) CreateAccount(ctx context.Context, account *shardmedia.Account) error {
	model := &accountModel{
		ID:                account.ID,
		WrappedCredential: account.WrappedCredential,
		WrappedNonce:      account.WrappedNonce,
		CreatedAt:         account.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return shardmedia.ErrDuplicateAccount
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*shardmedia.Account, error) {
	model := new(accountModel)
	err := r.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shardmedia.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return model.toAccount(), nil
}

// ListAccounts returns accounts in insertion order.
func (r *Repository) ListAccounts(ctx context.Context) ([]*shardmedia.Account, error) {
	var models []accountModel
	if err := r.db.NewSelect().Model(&models).OrderExpr("rowid").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]*shardmedia.Account, 0, len(models))
	for i := range models {
		accounts = append(accounts, models[i].toAccount())
	}
	return accounts, nil
}

func (r *Repository) CreateObject(ctx context.Context, record *shardmedia.ObjectRecord) error {
	model := &objectModel{
		Name:       record.Name,
		CreatedAt:  record.CreatedAt,
		AccountID:  record.AccountID,
		WrappedKey: record.WrappedKey,
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return shardmedia.ErrDuplicateObject
		}
		return fmt.Errorf("create object: %w", err)
	}
	return nil
}

func (r *Repository) GetObject(ctx context.Context, name string) (*shardmedia.ObjectRecord, error) {
	model := new(objectModel)
	err := r.db.NewSelect().Model(model).Where("name = ?", name).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shardmedia.ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return model.toRecord(), nil
}

func (r *Repository) ListObjects(ctx context.Context, req shardmedia.ListObjectsRequest) ([]*shardmedia.ObjectRecord, error) {
	var models []objectModel
	q := r.db.NewSelect().Model(&models)
	if req.AccountID != "" {
		q = q.Where("account_id = ?", req.AccountID)
	}
	if req.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *req.CreatedAfter)
	}
	if req.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *req.CreatedBefore)
	}
	if req.SkipTrailingChunks {
		q = q.Where("NOT (name GLOB '*_[0-9][0-9][0-9][0-9].webm' AND name NOT GLOB '*_0000.webm')")
	}
	if req.NewestFirst {
		q = q.OrderExpr("created_at DESC, name DESC")
	} else {
		q = q.Order("created_at", "name")
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		if req.Limit <= 0 {
			// SQLite needs a LIMIT before OFFSET; a negative limit means no limit.
			q = q.Limit(-1)
		}
		q = q.Offset(req.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	records := make([]*shardmedia.ObjectRecord, 0, len(models))
	for i := range models {
		records = append(records, models[i].toRecord())
	}
	return records, nil
}

// Snapshot writes a consistent copy of the database to dst.
func (r *Repository) Snapshot(ctx context.Context, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous snapshot: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

func (m *accountModel) toAccount() *shardmedia.Account {
	return &shardmedia.Account{
		ID:                m.ID,
		WrappedCredential: m.WrappedCredential,
		WrappedNonce:      m.WrappedNonce,
		CreatedAt:         m.CreatedAt,
	}
}

func (m *objectModel) toRecord() *shardmedia.ObjectRecord {
	return &shardmedia.ObjectRecord{
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
		AccountID:  m.AccountID,
		WrappedKey: m.WrappedKey,
	}
}

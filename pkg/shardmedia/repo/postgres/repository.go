package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/shardmedia/pkg/shardmedia"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements shardmedia.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// NewPool opens a pool whose connections use schema as search_path.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}

// Schema creates the tables used by Repository.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                 TEXT PRIMARY KEY,
	wrapped_credential BYTEA NOT NULL,
	wrapped_nonce      BYTEA NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	seq                BIGSERIAL
);
CREATE TABLE IF NOT EXISTS objects (
	name        TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	account_id  TEXT NOT NULL REFERENCES accounts(id),
	wrapped_key BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS objects_account_id_idx ON objects (account_id);
`

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.TableName == "accounts" {
				return shardmedia.ErrDuplicateAccount
			}
			return shardmedia.ErrDuplicateObject
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", operation, shardmedia.ErrAccountNotFound)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Account operations

func (r *Repository) CreateAccount(ctx context.Context, account *shardmedia.Account) error {
	query := `
		INSERT INTO accounts (id, wrapped_credential, wrapped_nonce, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query,
		account.ID, account.WrappedCredential, account.WrappedNonce, account.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create account", err)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id string) (*shardmedia.Account, error) {
	query := `
		SELECT id, wrapped_credential, wrapped_nonce, created_at
		FROM accounts WHERE id = $1`

	var account shardmedia.Account
	err := r.db.QueryRow(ctx, query, id).Scan(
		&account.ID, &account.WrappedCredential, &account.WrappedNonce, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shardmedia.ErrAccountNotFound
		}
		return nil, r.handlePostgresError("get account", err)
	}
	return &account, nil
}

func (r *Repository) ListAccounts(ctx context.Context) ([]*shardmedia.Account, error) {
	query := `
		SELECT id, wrapped_credential, wrapped_nonce, created_at
		FROM accounts ORDER BY seq`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list accounts", err)
	}
	defer rows.Close()

	var accounts []*shardmedia.Account
	for rows.Next() {
		var account shardmedia.Account
		if err := rows.Scan(&account.ID, &account.WrappedCredential, &account.WrappedNonce, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}

// Object operations

func (r *Repository) CreateObject(ctx context.Context, record *shardmedia.ObjectRecord) error {
	query := `
		INSERT INTO objects (name, created_at, account_id, wrapped_key)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, record.Name, record.CreatedAt, record.AccountID, record.WrappedKey)
	if err != nil {
		return r.handlePostgresError("create object", err)
	}
	return nil
}

func (r *Repository) GetObject(ctx context.Context, name string) (*shardmedia.ObjectRecord, error) {
	query := `
		SELECT name, created_at, account_id, wrapped_key
		FROM objects WHERE name = $1`

	var record shardmedia.ObjectRecord
	err := r.db.QueryRow(ctx, query, name).Scan(
		&record.Name, &record.CreatedAt, &record.AccountID, &record.WrappedKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shardmedia.ErrObjectNotFound
		}
		return nil, r.handlePostgresError("get object", err)
	}
	return &record, nil
}

func (r *Repository) ListObjects(ctx context.Context, req shardmedia.ListObjectsRequest) ([]*shardmedia.ObjectRecord, error) {
	query := `
		SELECT name, created_at, account_id, wrapped_key
		FROM objects WHERE 1=1`

	args := []interface{}{}
	argIndex := 1

	// Build dynamic WHERE clause
	if req.AccountID != "" {
		query += fmt.Sprintf(" AND account_id = $%d", argIndex)
		args = append(args, req.AccountID)
		argIndex++
	}
	if req.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, *req.CreatedAfter)
		argIndex++
	}
	if req.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, *req.CreatedBefore)
		argIndex++
	}

	if req.SkipTrailingChunks {
		query += ` AND NOT (name ~ '_[0-9]{4}\.webm$' AND name !~ '_0000\.webm$')`
	}

	if req.NewestFirst {
		query += " ORDER BY created_at DESC, name DESC"
	} else {
		query += " ORDER BY created_at, name"
	}

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, req.Limit)
		argIndex++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, req.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list objects", err)
	}
	defer rows.Close()

	var records []*shardmedia.ObjectRecord
	for rows.Next() {
		var record shardmedia.ObjectRecord
		if err := rows.Scan(&record.Name, &record.CreatedAt, &record.AccountID, &record.WrappedKey); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

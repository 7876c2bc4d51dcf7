// Package store はPostgreSQLへの永続化を担当するリポジトリ群を提供します。
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // postgres方言の登録
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

var (
	// ErrNotFound は対象レコードが存在しないことを示します。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate はUnique制約違反を示します。
	ErrDuplicate = errors.New("duplicate record")
)

// SQL文の組み立てにはgoquのpostgres方言を使用する
var dialect = goqu.Dialect("postgres")

// DB は接続プールを保持するハンドルです。
// プロセス起動時に Open し、シャットダウン時に Close します。
type DB struct {
	pool *pgxpool.Pool
}

// Open はDSNから接続プールを作成し、疎通確認まで行います。
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close は接続プールを閉じます。
func (db *DB) Close() {
	db.pool.Close()
}

// Migrate はスキーマを作成します（存在する場合は何もしません）。
// rentals_one_open_per_book の部分Unique Indexが
// 「1冊につき未返却の貸出は最大1件」という不変条件の最終的な砦になります。
func (db *DB) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password BYTEA NOT NULL,
  salt BYTEA NOT NULL,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS books (
  id BIGSERIAL PRIMARY KEY,
  isbn13 BIGINT NOT NULL,
  title TEXT NOT NULL,
  author TEXT NOT NULL,
  publish_date TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rentals (
  id BIGSERIAL PRIMARY KEY,
  book_id BIGINT NOT NULL REFERENCES books (id),
  user_id BIGINT NOT NULL REFERENCES users (id),
  rental_date TIMESTAMPTZ NOT NULL,
  return_deadline TIMESTAMPTZ NOT NULL,
  return_date TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS rentals_one_open_per_book
  ON rentals (book_id) WHERE return_date IS NULL;
`
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// isUniqueViolation はPostgreSQLのUnique制約違反かどうかを判定します。
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

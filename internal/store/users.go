package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
)

// User はユーザレコードです。
// Password と Salt はこのパッケージと認証処理の外には出しません。
type User struct {
	ID       int64
	Name     string
	Email    string
	Password []byte // scryptハッシュ
	Salt     []byte
	IsAdmin  bool
}

// UserStore はusersテーブルへのアクセスを提供します。
type UserStore struct {
	db *DB
}

// NewUserStore は UserStore を作成します。
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Create はユーザを登録し、採番されたIDを返します。
// name または email のUnique制約違反は ErrDuplicate を返します。
func (s *UserStore) Create(ctx context.Context, u *User) (int64, error) {
	sql, args, err := dialect.
		Insert("users").
		Rows(goqu.Record{
			"name":     u.Name,
			"email":    u.Email,
			"password": u.Password,
			"salt":     u.Salt,
			"is_admin": u.IsAdmin,
		}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert query: %w", err)
	}

	var id int64
	if err := s.db.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// FindByEmail はemailでユーザを検索します。見つからなければ ErrNotFound です。
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, goqu.Ex{"email": email})
}

// FindByID はIDでユーザを検索します。見つからなければ ErrNotFound です。
func (s *UserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.findOne(ctx, goqu.Ex{"id": id})
}

func (s *UserStore) findOne(ctx context.Context, where goqu.Ex) (*User, error) {
	sql, args, err := dialect.
		From("users").
		Select("id", "name", "email", "password", "salt", "is_admin").
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	u := &User{}
	row := s.db.pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Salt, &u.IsAdmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

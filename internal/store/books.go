package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
)

// Book は書籍レコードです。1行が物理的な1冊に対応します（複本管理はしない）。
type Book struct {
	ID          int64
	ISBN13      int64
	Title       string
	Author      string
	PublishDate time.Time
}

// BookStore はbooksテーブルへのアクセスを提供します。
type BookStore struct {
	db *DB
}

// NewBookStore は BookStore を作成します。
func NewBookStore(db *DB) *BookStore {
	return &BookStore{db: db}
}

// Create は書籍を登録し、採番されたIDを返します。
func (s *BookStore) Create(ctx context.Context, b *Book) (int64, error) {
	sql, args, err := dialect.
		Insert("books").
		Rows(goqu.Record{
			"isbn13":       b.ISBN13,
			"title":        b.Title,
			"author":       b.Author,
			"publish_date": b.PublishDate,
		}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert query: %w", err)
	}

	var id int64
	if err := s.db.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Update は書籍情報を更新します。対象が存在しなければ ErrNotFound です。
func (s *BookStore) Update(ctx context.Context, b *Book) error {
	sql, args, err := dialect.
		Update("books").
		Set(goqu.Record{
			"isbn13":       b.ISBN13,
			"title":        b.Title,
			"author":       b.Author,
			"publish_date": b.PublishDate,
		}).
		Where(goqu.Ex{"id": b.ID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := s.db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByID はIDで書籍を検索します。見つからなければ ErrNotFound です。
func (s *BookStore) FindByID(ctx context.Context, id int64) (*Book, error) {
	sql, args, err := dialect.
		From("books").
		Select("id", "isbn13", "title", "author", "publish_date").
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	b := &Book{}
	row := s.db.pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&b.ID, &b.ISBN13, &b.Title, &b.Author, &b.PublishDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// List はID昇順で1ページ分の書籍を返します。
func (s *BookStore) List(ctx context.Context, offset, limit int) ([]Book, error) {
	sql, args, err := dialect.
		From("books").
		Select("id", "isbn13", "title", "author", "publish_date").
		Order(goqu.I("id").Asc()).
		Offset(uint(offset)).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := s.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.ISBN13, &b.Title, &b.Author, &b.PublishDate); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// Count は書籍の総数を返します。ページ数の計算に使用します。
func (s *BookStore) Count(ctx context.Context) (int64, error) {
	sql, args, err := dialect.
		From("books").
		Select(goqu.COUNT("*")).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int64
	if err := s.db.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

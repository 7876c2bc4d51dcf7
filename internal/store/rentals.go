package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
)

// Rental は貸出レコードです。
// ReturnDate が nil の間は「貸出中」で、返却時に一度だけ設定されます。
// 返却後も履歴として残り、削除されることはありません。
type Rental struct {
	ID             int64
	BookID         int64
	UserID         int64
	RentalDate     time.Time
	ReturnDeadline time.Time
	ReturnDate     *time.Time
}

// RentalDetail は書籍・ユーザ情報を結合した貸出の読み取り用ビューです。
type RentalDetail struct {
	RentalID       int64
	BookID         int64
	BookTitle      string
	UserID         int64
	UserName       string
	RentalDate     time.Time
	ReturnDeadline time.Time
	ReturnDate     *time.Time
}

// RentalStore はrentalsテーブルへのアクセスを提供します。
type RentalStore struct {
	db *DB
}

// NewRentalStore は RentalStore を作成します。
func NewRentalStore(db *DB) *RentalStore {
	return &RentalStore{db: db}
}

// rentalDetailDataset は詳細ビューのSELECT句と結合条件を共通化したものです。
func rentalDetailDataset() *goqu.SelectDataset {
	return dialect.
		From(goqu.T("rentals").As("r")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.Ex{"r.book_id": goqu.I("b.id")})).
		Join(goqu.T("users").As("u"), goqu.On(goqu.Ex{"r.user_id": goqu.I("u.id")})).
		Select(
			goqu.I("r.id"), goqu.I("b.id"), goqu.I("b.title"),
			goqu.I("u.id"), goqu.I("u.name"),
			goqu.I("r.rental_date"), goqu.I("r.return_deadline"), goqu.I("r.return_date"),
		)
}

// Insert は貸出レコードを作成し、採番されたIDを返します。
// 同じ書籍に未返却の貸出が既にある場合、部分Unique Index
// rentals_one_open_per_book が挿入を拒否するため ErrDuplicate になります。
// 同時に複数のリクエストが同じ書籍を借りようとしても、成功するのは1件だけです。
func (s *RentalStore) Insert(ctx context.Context, r *Rental) (int64, error) {
	sql, args, err := dialect.
		Insert("rentals").
		Rows(goqu.Record{
			"book_id":         r.BookID,
			"user_id":         r.UserID,
			"rental_date":     r.RentalDate,
			"return_deadline": r.ReturnDeadline,
			"return_date":     nil,
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

// FindByID はIDで貸出を検索します。見つからなければ ErrNotFound です。
func (s *RentalStore) FindByID(ctx context.Context, id int64) (*Rental, error) {
	sql, args, err := dialect.
		From("rentals").
		Select("id", "book_id", "user_id", "rental_date", "return_deadline", "return_date").
		Where(goqu.Ex{"id": id}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	r := &Rental{}
	row := s.db.pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.RentalDate, &r.ReturnDeadline, &r.ReturnDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// MarkReturned は返却日時を設定します。
// WHERE句で return_date IS NULL を条件にしているため、既に返却済みの
// レコードを上書きすることはありません。更新できたかどうかを返します。
func (s *RentalStore) MarkReturned(ctx context.Context, id int64, at time.Time) (bool, error) {
	sql, args, err := dialect.
		Update("rentals").
		Set(goqu.Record{"return_date": at}).
		Where(goqu.Ex{"id": id, "return_date": nil}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := s.db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OpenDetailByBook は指定書籍の未返却貸出を書籍・ユーザ情報付きで返します。
// 貸出中でなければ ErrNotFound です。
func (s *RentalStore) OpenDetailByBook(ctx context.Context, bookID int64) (*RentalDetail, error) {
	sql, args, err := rentalDetailDataset().
		Where(goqu.Ex{"r.book_id": bookID, "r.return_date": nil}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	d := &RentalDetail{}
	row := s.db.pool.QueryRow(ctx, sql, args...)
	err = row.Scan(&d.RentalID, &d.BookID, &d.BookTitle, &d.UserID, &d.UserName,
		&d.RentalDate, &d.ReturnDeadline, &d.ReturnDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDetailsByUser は指定ユーザの貸出を書籍情報付きで返します。
// onlyOpen が true なら未返却のみ、false なら返却済みの履歴のみを返します。
func (s *RentalStore) ListDetailsByUser(ctx context.Context, userID int64, onlyOpen bool) ([]RentalDetail, error) {
	where := goqu.Ex{"r.user_id": userID, "r.return_date": nil}
	if !onlyOpen {
		where = goqu.Ex{"r.user_id": userID, "r.return_date": goqu.Op{"isNot": nil}}
	}

	sql, args, err := rentalDetailDataset().
		Where(where).
		Order(goqu.I("r.id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	return s.queryDetails(ctx, sql, args)
}

// OpenDetails は全ユーザの未返却貸出をユーザID順で返します。
func (s *RentalStore) OpenDetails(ctx context.Context) ([]RentalDetail, error) {
	sql, args, err := rentalDetailDataset().
		Where(goqu.Ex{"r.return_date": nil}).
		Order(goqu.I("u.id").Asc(), goqu.I("r.id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	return s.queryDetails(ctx, sql, args)
}

// OpenBookIDs は未返却貸出のある書籍IDの集合を返します。一覧の貸出中フラグ用です。
func (s *RentalStore) OpenBookIDs(ctx context.Context, bookIDs []int64) (map[int64]bool, error) {
	if len(bookIDs) == 0 {
		return map[int64]bool{}, nil
	}

	sql, args, err := dialect.
		From("rentals").
		Select("book_id").
		Where(goqu.Ex{"book_id": bookIDs, "return_date": nil}).
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

	open := make(map[int64]bool, len(bookIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		open[id] = true
	}
	return open, rows.Err()
}

func (s *RentalStore) queryDetails(ctx context.Context, sql string, args []interface{}) ([]RentalDetail, error) {
	rows, err := s.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []RentalDetail
	for rows.Next() {
		var d RentalDetail
		err := rows.Scan(&d.RentalID, &d.BookID, &d.BookTitle, &d.UserID, &d.UserName,
			&d.RentalDate, &d.ReturnDeadline, &d.ReturnDate)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

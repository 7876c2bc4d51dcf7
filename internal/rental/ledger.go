// Package rental は書籍の貸出・返却の状態遷移を管理します。
// 「1冊につき未返却の貸出は最大1件」という不変条件の維持が責務です。
package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/store"
)

var (
	// ErrAlreadyRented は対象書籍が貸出中であることを示します。
	ErrAlreadyRented = errors.New("book is already rented")
	// ErrAlreadyReturned は対象貸出が返却済みであることを示します。
	ErrAlreadyReturned = errors.New("rental is already returned")
	// ErrNotFound は貸出または書籍が存在しない（もしくは他ユーザの
	// 貸出である）ことを示します。存在しないのか他人のものなのかは
	// 呼び出し側に区別させません。
	ErrNotFound = errors.New("rental not found")
)

// RentalStore はLedgerが必要とする貸出永続化の操作です。
type RentalStore interface {
	Insert(ctx context.Context, r *store.Rental) (int64, error)
	FindByID(ctx context.Context, id int64) (*store.Rental, error)
	MarkReturned(ctx context.Context, id int64, at time.Time) (bool, error)
	ListDetailsByUser(ctx context.Context, userID int64, onlyOpen bool) ([]store.RentalDetail, error)
	OpenDetailByBook(ctx context.Context, bookID int64) (*store.RentalDetail, error)
	OpenBookIDs(ctx context.Context, bookIDs []int64) (map[int64]bool, error)
}

// BookFinder は書籍の存在確認に使います。
type BookFinder interface {
	FindByID(ctx context.Context, id int64) (*store.Book, error)
}

// Ledger は貸出台帳です。
// 同じ書籍への同時貸出はデータストアの部分Unique Indexが直列化するため、
// プロセス内のロックには依存しません（複数インスタンスでも成立します）。
type Ledger struct {
	rentals    RentalStore
	books      BookFinder
	loanPeriod time.Duration
}

// NewLedger は Ledger を作成します。loanPeriod は貸出期間（返却期限までの長さ）です。
func NewLedger(rentals RentalStore, books BookFinder, loanPeriod time.Duration) *Ledger {
	return &Ledger{
		rentals:    rentals,
		books:      books,
		loanPeriod: loanPeriod,
	}
}

// Start は貸出を開始します。
// 書籍が存在しなければ ErrNotFound、既に貸出中なら ErrAlreadyRented です。
// 同じ書籍への複数の同時呼び出しでは、必ず1件だけが成功し、残りは
// ErrAlreadyRented を受け取ります（黙って成功扱いにはなりません）。
func (l *Ledger) Start(ctx context.Context, bookID, userID int64) (*store.Rental, error) {
	if _, err := l.books.FindByID(ctx, bookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up book: %w", err)
	}

	now := time.Now().UTC()
	r := &store.Rental{
		BookID:         bookID,
		UserID:         userID,
		RentalDate:     now,
		ReturnDeadline: now.Add(l.loanPeriod),
	}

	id, err := l.rentals.Insert(ctx, r)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// 部分Unique Indexが同時挿入の勝敗を決める。ここに来たのは敗者。
			log.Info().Int64("book_id", bookID).Int64("user_id", userID).
				Msg("concurrent rental attempt rejected")
			return nil, ErrAlreadyRented
		}
		return nil, fmt.Errorf("failed to insert rental: %w", err)
	}
	r.ID = id

	return r, nil
}

// Return は貸出を返却します。
// 貸出が存在しない、または userID のものでない場合は ErrNotFound、
// 既に返却済みなら ErrAlreadyReturned です。返却日時は一度設定したら
// 二度と変わりません。
func (l *Ledger) Return(ctx context.Context, rentalID, userID int64) error {
	r, err := l.rentals.FindByID(ctx, rentalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up rental: %w", err)
	}
	if r.UserID != userID {
		// 他ユーザの貸出。存在しない場合と同じ応答にする。
		return ErrNotFound
	}
	if r.ReturnDate != nil {
		return ErrAlreadyReturned
	}

	ok, err := l.rentals.MarkReturned(ctx, rentalID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark rental returned: %w", err)
	}
	if !ok {
		// 読み取りと更新の間に他のリクエストが返却を済ませた場合
		return ErrAlreadyReturned
	}
	return nil
}

// CurrentFor は指定ユーザの未返却の貸出を返します。
func (l *Ledger) CurrentFor(ctx context.Context, userID int64) ([]store.RentalDetail, error) {
	return l.rentals.ListDetailsByUser(ctx, userID, true)
}

// HistoryFor は指定ユーザの返却済みの貸出を返します。
func (l *Ledger) HistoryFor(ctx context.Context, userID int64) ([]store.RentalDetail, error) {
	return l.rentals.ListDetailsByUser(ctx, userID, false)
}

// IsCurrentlyRented は書籍が貸出中かどうかを返します。
func (l *Ledger) IsCurrentlyRented(ctx context.Context, bookID int64) (bool, error) {
	_, err := l.rentals.OpenDetailByBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OpenRentalFor は書籍の貸出中情報（借主名・期限つき）を返します。
// 貸出中でなければ nil を返します。書籍詳細画面用です。
func (l *Ledger) OpenRentalFor(ctx context.Context, bookID int64) (*store.RentalDetail, error) {
	d, err := l.rentals.OpenDetailByBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// OpenBookIDs は指定した書籍IDのうち貸出中のものの集合を返します。
func (l *Ledger) OpenBookIDs(ctx context.Context, bookIDs []int64) (map[int64]bool, error) {
	return l.rentals.OpenBookIDs(ctx, bookIDs)
}

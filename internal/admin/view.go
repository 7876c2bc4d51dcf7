// Package admin は管理者向けの機能を提供します。
// 貸出状況の読み取り専用ビューと、書籍情報の登録・更新です。
// 認可チェックはここでは行いません。ハンドラーを RequireAdmin の内側に
// 配置するのは呼び出し側（ルーティング）の責務です。
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/yourusername/librental/internal/store"
)

// ErrUserNotFound は指定IDのユーザが存在しないことを示します。
var ErrUserNotFound = errors.New("user not found")

// RentalStore はビューが必要とする貸出の読み取り操作です。
type RentalStore interface {
	OpenDetails(ctx context.Context) ([]store.RentalDetail, error)
	ListDetailsByUser(ctx context.Context, userID int64, onlyOpen bool) ([]store.RentalDetail, error)
}

// UserFinder はユーザの存在確認に使います。
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*store.User, error)
}

// RentalSummary は管理画面向けの貸出1件分の表示項目です。
type RentalSummary struct {
	RentalID       int64     `json:"rentalId"`
	BookID         int64     `json:"bookId"`
	BookName       string    `json:"bookName"`
	RentalDate     time.Time `json:"rentalDate"`
	ReturnDeadline time.Time `json:"returnDeadline"`
}

// UserRentals はユーザ1人分の貸出中一覧です。
type UserRentals struct {
	UserID      int64           `json:"userId"`
	UserName    string          `json:"userName"`
	RentalBooks []RentalSummary `json:"rentalBooks"`
}

// View は貸出状況の読み取り専用ビューです。
type View struct {
	rentals RentalStore
	users   UserFinder
}

// NewView は View を作成します。
func NewView(rentals RentalStore, users UserFinder) *View {
	return &View{rentals: rentals, users: users}
}

// AllActive は全ユーザの貸出中一覧をユーザごとにまとめて返します。
// 貸出中の書籍が1冊もないユーザは含まれません。
func (v *View) AllActive(ctx context.Context) ([]UserRentals, error) {
	details, err := v.rentals.OpenDetails(ctx)
	if err != nil {
		return nil, err
	}

	// OpenDetails はユーザID順に返すので、切り替わりでグループを区切る
	grouped := make([]UserRentals, 0)
	for _, d := range details {
		n := len(grouped)
		if n == 0 || grouped[n-1].UserID != d.UserID {
			grouped = append(grouped, UserRentals{
				UserID:      d.UserID,
				UserName:    d.UserName,
				RentalBooks: []RentalSummary{},
			})
			n++
		}
		grouped[n-1].RentalBooks = append(grouped[n-1].RentalBooks, summaryFrom(d))
	}
	return grouped, nil
}

// ActiveFor は指定ユーザの貸出中一覧を返します。
// ユーザが存在しなければ ErrUserNotFound です（貸出ゼロはエラーではありません）。
func (v *View) ActiveFor(ctx context.Context, userID int64) (*UserRentals, error) {
	user, err := v.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	details, err := v.rentals.ListDetailsByUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	result := &UserRentals{
		UserID:      user.ID,
		UserName:    user.Name,
		RentalBooks: make([]RentalSummary, 0, len(details)),
	}
	for _, d := range details {
		result.RentalBooks = append(result.RentalBooks, summaryFrom(d))
	}
	return result, nil
}

func summaryFrom(d store.RentalDetail) RentalSummary {
	return RentalSummary{
		RentalID:       d.RentalID,
		BookID:         d.BookID,
		BookName:       d.BookTitle,
		RentalDate:     d.RentalDate,
		ReturnDeadline: d.ReturnDeadline,
	}
}

package rental

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/librental/internal/store"
)

// fakeRentalStore はrentalsテーブルの振る舞いをメモリ上で再現します。
// Insert は部分Unique Index rentals_one_open_per_book と同様に、
// 同じ書籍の未返却貸出が既にあれば ErrDuplicate を返します。
type fakeRentalStore struct {
	mu      sync.Mutex
	rentals map[int64]*store.Rental
	nextID  int64
}

func newFakeRentalStore() *fakeRentalStore {
	return &fakeRentalStore{rentals: make(map[int64]*store.Rental)}
}

func (f *fakeRentalStore) Insert(_ context.Context, r *store.Rental) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rentals {
		if existing.BookID == r.BookID && existing.ReturnDate == nil {
			return 0, store.ErrDuplicate
		}
	}
	f.nextID++
	stored := *r
	stored.ID = f.nextID
	f.rentals[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeRentalStore) FindByID(_ context.Context, id int64) (*store.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rentals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeRentalStore) MarkReturned(_ context.Context, id int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rentals[id]
	if !ok || r.ReturnDate != nil {
		return false, nil
	}
	r.ReturnDate = &at
	return true, nil
}

func (f *fakeRentalStore) ListDetailsByUser(_ context.Context, userID int64, onlyOpen bool) ([]store.RentalDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var details []store.RentalDetail
	for _, r := range f.rentals {
		if r.UserID != userID {
			continue
		}
		if onlyOpen != (r.ReturnDate == nil) {
			continue
		}
		details = append(details, f.detailOf(r))
	}
	return details, nil
}

func (f *fakeRentalStore) OpenDetailByBook(_ context.Context, bookID int64) (*store.RentalDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rentals {
		if r.BookID == bookID && r.ReturnDate == nil {
			d := f.detailOf(r)
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRentalStore) OpenBookIDs(_ context.Context, bookIDs []int64) (map[int64]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := make(map[int64]bool)
	for _, id := range bookIDs {
		for _, r := range f.rentals {
			if r.BookID == id && r.ReturnDate == nil {
				open[id] = true
			}
		}
	}
	return open, nil
}

func (f *fakeRentalStore) detailOf(r *store.Rental) store.RentalDetail {
	return store.RentalDetail{
		RentalID:       r.ID,
		BookID:         r.BookID,
		BookTitle:      fmt.Sprintf("book-%d", r.BookID),
		UserID:         r.UserID,
		UserName:       fmt.Sprintf("user-%d", r.UserID),
		RentalDate:     r.RentalDate,
		ReturnDeadline: r.ReturnDeadline,
		ReturnDate:     r.ReturnDate,
	}
}

// openCountFor は不変条件の検証用に、書籍ごとの未返却件数を数えます。
func (f *fakeRentalStore) openCountFor(bookID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.rentals {
		if r.BookID == bookID && r.ReturnDate == nil {
			count++
		}
	}
	return count
}

type fakeBookFinder struct {
	books map[int64]*store.Book
}

func (f *fakeBookFinder) FindByID(_ context.Context, id int64) (*store.Book, error) {
	b, ok := f.books[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func newTestLedger() (*Ledger, *fakeRentalStore) {
	rentals := newFakeRentalStore()
	books := &fakeBookFinder{books: map[int64]*store.Book{
		1: {ID: 1, Title: "book-1"},
		2: {ID: 2, Title: "book-2"},
	}}
	return NewLedger(rentals, books, 14*24*time.Hour), rentals
}

func TestStartRental(t *testing.T) {
	ledger, _ := newTestLedger()

	before := time.Now().UTC()
	r, err := ledger.Start(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if r.ID == 0 || r.BookID != 1 || r.UserID != 10 {
		t.Fatalf("unexpected rental: %+v", r)
	}
	if r.ReturnDate != nil {
		t.Fatal("new rental already has a return date")
	}
	if got := r.ReturnDeadline.Sub(r.RentalDate); got != 14*24*time.Hour {
		t.Fatalf("loan period = %v, want %v", got, 14*24*time.Hour)
	}
	if r.RentalDate.Before(before.Add(-time.Second)) {
		t.Fatalf("rental date %v is implausibly old", r.RentalDate)
	}
}

func TestStartRentalUnknownBook(t *testing.T) {
	ledger, _ := newTestLedger()

	if _, err := ledger.Start(context.Background(), 99, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start for unknown book returned %v, want ErrNotFound", err)
	}
}

func TestStartRentalAlreadyRented(t *testing.T) {
	ledger, _ := newTestLedger()

	if _, err := ledger.Start(context.Background(), 1, 10); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	// 別ユーザからの2回目は黙って成功してはいけない
	if _, err := ledger.Start(context.Background(), 1, 11); !errors.Is(err, ErrAlreadyRented) {
		t.Fatalf("second Start returned %v, want ErrAlreadyRented", err)
	}
}

func TestStartRentalConcurrent(t *testing.T) {
	ledger, rentals := newTestLedger()

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := ledger.Start(context.Background(), 1, userID)
			results <- err
		}(int64(100 + i))
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyRented):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// 成功はちょうど1件、残りは全て ErrAlreadyRented
	if succeeded != 1 || conflicted != workers-1 {
		t.Fatalf("succeeded=%d conflicted=%d, want 1 and %d", succeeded, conflicted, workers-1)
	}
	if count := rentals.openCountFor(1); count != 1 {
		t.Fatalf("open rentals for book = %d, want 1", count)
	}
}

func TestReturnRental(t *testing.T) {
	ledger, rentals := newTestLedger()

	r, err := ledger.Start(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := ledger.Return(context.Background(), r.ID, 10); err != nil {
		t.Fatalf("Return returned error: %v", err)
	}

	stored, err := rentals.FindByID(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if stored.ReturnDate == nil {
		t.Fatal("return date was not set")
	}
	firstReturn := *stored.ReturnDate

	// 2回目の返却は拒否され、返却日時は変わらない
	if err := ledger.Return(context.Background(), r.ID, 10); !errors.Is(err, ErrAlreadyReturned) {
		t.Fatalf("second Return returned %v, want ErrAlreadyReturned", err)
	}
	stored, _ = rentals.FindByID(context.Background(), r.ID)
	if !stored.ReturnDate.Equal(firstReturn) {
		t.Fatal("return date changed on repeated return")
	}

	// 返却後は同じ書籍を再び借りられる
	if _, err := ledger.Start(context.Background(), 1, 11); err != nil {
		t.Fatalf("Start after return returned error: %v", err)
	}
}

func TestReturnRentalOwnership(t *testing.T) {
	ledger, _ := newTestLedger()

	r, err := ledger.Start(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// 他ユーザの貸出は、存在しない場合と区別できない応答にする
	otherUser := ledger.Return(context.Background(), r.ID, 11)
	missing := ledger.Return(context.Background(), 999, 11)
	if !errors.Is(otherUser, ErrNotFound) || !errors.Is(missing, ErrNotFound) {
		t.Fatalf("errors = %v, %v, want ErrNotFound for both", otherUser, missing)
	}
}

func TestCurrentAndHistory(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	r1, err := ledger.Start(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if _, err := ledger.Start(ctx, 2, 10); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := ledger.Return(ctx, r1.ID, 10); err != nil {
		t.Fatalf("Return returned error: %v", err)
	}

	current, err := ledger.CurrentFor(ctx, 10)
	if err != nil {
		t.Fatalf("CurrentFor returned error: %v", err)
	}
	if len(current) != 1 || current[0].BookID != 2 {
		t.Fatalf("unexpected current rentals: %+v", current)
	}

	history, err := ledger.HistoryFor(ctx, 10)
	if err != nil {
		t.Fatalf("HistoryFor returned error: %v", err)
	}
	if len(history) != 1 || history[0].BookID != 1 || history[0].ReturnDate == nil {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestIsCurrentlyRented(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	rented, err := ledger.IsCurrentlyRented(ctx, 1)
	if err != nil {
		t.Fatalf("IsCurrentlyRented returned error: %v", err)
	}
	if rented {
		t.Fatal("book reported rented before any rental")
	}

	r, err := ledger.Start(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	rented, _ = ledger.IsCurrentlyRented(ctx, 1)
	if !rented {
		t.Fatal("book not reported rented while lent out")
	}

	if err := ledger.Return(ctx, r.ID, 10); err != nil {
		t.Fatalf("Return returned error: %v", err)
	}
	rented, _ = ledger.IsCurrentlyRented(ctx, 1)
	if rented {
		t.Fatal("book still reported rented after return")
	}
}

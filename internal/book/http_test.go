package book

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/librental/internal/store"
)

type stubBookStore struct {
	books []store.Book
}

func (s *stubBookStore) List(_ context.Context, offset, limit int) ([]store.Book, error) {
	if offset >= len(s.books) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.books) {
		end = len(s.books)
	}
	return s.books[offset:end], nil
}

func (s *stubBookStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.books)), nil
}

func (s *stubBookStore) FindByID(_ context.Context, id int64) (*store.Book, error) {
	for i := range s.books {
		if s.books[i].ID == id {
			return &s.books[i], nil
		}
	}
	return nil, store.ErrNotFound
}

type stubRentalInfo struct {
	openBooks map[int64]*store.RentalDetail
}

func (s *stubRentalInfo) OpenBookIDs(_ context.Context, bookIDs []int64) (map[int64]bool, error) {
	open := make(map[int64]bool)
	for _, id := range bookIDs {
		if _, ok := s.openBooks[id]; ok {
			open[id] = true
		}
	}
	return open, nil
}

func (s *stubRentalInfo) OpenRentalFor(_ context.Context, bookID int64) (*store.RentalDetail, error) {
	return s.openBooks[bookID], nil
}

func newCatalogRouter(books *stubBookStore, rentals *stubRentalInfo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(books, rentals, 10)

	router := gin.New()
	router.GET("/book/list", h.List)
	router.GET("/book/detail/:id", h.Detail)
	return router
}

func seedBooks(n int) []store.Book {
	books := make([]store.Book, 0, n)
	for i := 1; i <= n; i++ {
		books = append(books, store.Book{
			ID:          int64(i),
			ISBN13:      9784000000000 + int64(i),
			Title:       "タイトル",
			Author:      "著者",
			PublishDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return books
}

func TestListPagination(t *testing.T) {
	books := &stubBookStore{books: seedBooks(25)}
	rentals := &stubRentalInfo{openBooks: map[int64]*store.RentalDetail{
		2: {RentalID: 1, BookID: 2, UserName: "alice"},
	}}
	router := newCatalogRouter(books, rentals)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/list", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var page []struct {
		ID       int64 `json:"id"`
		IsRental bool  `json:"isRental"`
		MaxPage  int64 `json:"maxPage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page) != 10 {
		t.Fatalf("page size = %d, want 10", len(page))
	}
	// 25冊なので3ページ
	if page[0].MaxPage != 3 {
		t.Fatalf("maxPage = %d, want 3", page[0].MaxPage)
	}
	if !page[1].IsRental || page[0].IsRental {
		t.Fatalf("rental flags wrong: %+v", page[:3])
	}

	// 最終ページは5冊
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/list?page=3", nil))
	page = nil
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page) != 5 {
		t.Fatalf("last page size = %d, want 5", len(page))
	}
}

func TestListRejectsInvalidPage(t *testing.T) {
	router := newCatalogRouter(&stubBookStore{}, &stubRentalInfo{})

	for _, q := range []string{"?page=0", "?page=-1", "?page=abc"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/list"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("page %q returned status %d, want 400", q, w.Code)
		}
	}
}

func TestDetail(t *testing.T) {
	now := time.Now().UTC()
	books := &stubBookStore{books: seedBooks(3)}
	rentals := &stubRentalInfo{openBooks: map[int64]*store.RentalDetail{
		2: {RentalID: 1, BookID: 2, UserName: "alice",
			RentalDate: now, ReturnDeadline: now.Add(14 * 24 * time.Hour)},
	}}
	router := newCatalogRouter(books, rentals)

	// 貸出中の書籍は借主情報つき
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/detail/2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var detail struct {
		ID         int64 `json:"id"`
		IsRental   bool  `json:"isRental"`
		RentalInfo *struct {
			UserName string `json:"userName"`
		} `json:"rentalInfo"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !detail.IsRental || detail.RentalInfo == nil || detail.RentalInfo.UserName != "alice" {
		t.Fatalf("unexpected detail: %s", w.Body.String())
	}

	// 貸出されていない書籍は rentalInfo が null
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/detail/1", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if detail.IsRental || detail.RentalInfo != nil {
		t.Fatalf("unexpected detail: %s", w.Body.String())
	}
}

func TestDetailNotFound(t *testing.T) {
	router := newCatalogRouter(&stubBookStore{books: seedBooks(3)}, &stubRentalInfo{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/detail/99", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/book/detail/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// Package book は書籍カタログの閲覧機能を提供します。
package book

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/store"
)

// BookStore はカタログが必要とする書籍の読み取り操作です。
type BookStore interface {
	List(ctx context.Context, offset, limit int) ([]store.Book, error)
	Count(ctx context.Context) (int64, error)
	FindByID(ctx context.Context, id int64) (*store.Book, error)
}

// RentalInfo は貸出中かどうかの問い合わせです。台帳が実装します。
type RentalInfo interface {
	OpenBookIDs(ctx context.Context, bookIDs []int64) (map[int64]bool, error)
	OpenRentalFor(ctx context.Context, bookID int64) (*store.RentalDetail, error)
}

// Handler は /book 以下のハンドラー群です。RequireLogin の内側で使います。
type Handler struct {
	books    BookStore
	rentals  RentalInfo
	pageSize int
}

// NewHandler は Handler を作成します。pageSize は1ページあたりの書籍数です。
func NewHandler(books BookStore, rentals RentalInfo, pageSize int) *Handler {
	if pageSize < 1 {
		pageSize = 10
	}
	return &Handler{books: books, rentals: rentals, pageSize: pageSize}
}

// List は GET /book/list のハンドラーです。
// ?page=N でページを指定します（1始まり、省略時は1ページ目）。
func (h *Handler) List(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		page = parsed
	}

	ctx := c.Request.Context()
	offset := (page - 1) * h.pageSize

	books, err := h.books.List(ctx, offset, h.pageSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list books")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	total, err := h.books.Count(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count books")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	maxPage := (total + int64(h.pageSize) - 1) / int64(h.pageSize)

	ids := make([]int64, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	open, err := h.rentals.OpenBookIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve rental status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	response := make([]gin.H, 0, len(books))
	for _, b := range books {
		response = append(response, gin.H{
			"id":       b.ID,
			"title":    b.Title,
			"author":   b.Author,
			"isRental": open[b.ID],
			"maxPage":  maxPage,
		})
	}
	c.JSON(http.StatusOK, response)
}

// Detail は GET /book/detail/:id のハンドラーです。
// 貸出中の場合は借主名と返却期限を rentalInfo として含めます。
func (h *Handler) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	ctx := c.Request.Context()
	b, err := h.books.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
			return
		}
		log.Error().Err(err).Int64("book_id", id).Msg("failed to find book")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	openRental, err := h.rentals.OpenRentalFor(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("book_id", id).Msg("failed to resolve rental status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	var rentalInfo gin.H
	if openRental != nil {
		rentalInfo = gin.H{
			"userName":       openRental.UserName,
			"rentalDate":     openRental.RentalDate,
			"returnDeadline": openRental.ReturnDeadline,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          b.ID,
		"isbn13":      b.ISBN13,
		"title":       b.Title,
		"author":      b.Author,
		"publishDate": b.PublishDate,
		"rentalInfo":  rentalInfo,
		"isRental":    openRental != nil,
	})
}

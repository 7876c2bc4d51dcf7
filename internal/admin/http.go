package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/store"
)

// BookStore はハンドラーが必要とする書籍永続化の操作です。
type BookStore interface {
	Create(ctx context.Context, b *store.Book) (int64, error)
	Update(ctx context.Context, b *store.Book) error
}

// Handler は /admin 以下のハンドラー群です。
// RequireLogin と RequireAdmin の内側に配置して使います。
type Handler struct {
	books BookStore
	view  *View
}

// NewHandler は Handler を作成します。
func NewHandler(books BookStore, view *View) *Handler {
	return &Handler{books: books, view: view}
}

type bookRequest struct {
	BookID      int64  `json:"bookId"`
	ISBN13      int64  `json:"isbn13" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author" binding:"required"`
	PublishDate string `json:"publishDate" binding:"required"`
}

// CreateBook は POST /admin/book/create のハンドラーです。
func (h *Handler) CreateBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "invalid book data"})
		return
	}

	publishDate, err := time.Parse(time.RFC3339, req.PublishDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "invalid publishDate"})
		return
	}

	book := &store.Book{
		ISBN13:      req.ISBN13,
		Title:       req.Title,
		Author:      req.Author,
		PublishDate: publishDate,
	}
	id, err := h.books.Create(c.Request.Context(), book)
	if err != nil {
		log.Error().Err(err).Msg("failed to create book")
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "could not create book"})
		return
	}
	book.ID = id

	c.JSON(http.StatusCreated, gin.H{"result": "OK", "book": renderBook(book)})
}

// UpdateBook は PUT /admin/book/update のハンドラーです。
func (h *Handler) UpdateBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BookID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "invalid book data"})
		return
	}

	publishDate, err := time.Parse(time.RFC3339, req.PublishDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "invalid publishDate"})
		return
	}

	book := &store.Book{
		ID:          req.BookID,
		ISBN13:      req.ISBN13,
		Title:       req.Title,
		Author:      req.Author,
		PublishDate: publishDate,
	}
	if err := h.books.Update(c.Request.Context(), book); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "book not found"})
			return
		}
		log.Error().Err(err).Int64("book_id", req.BookID).Msg("failed to update book")
		c.JSON(http.StatusBadRequest, gin.H{"result": "NG", "error": "could not update book"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "OK", "book": renderBook(book)})
}

// CurrentRentals は GET /admin/rental/current のハンドラーです。
// 全ユーザの貸出中一覧をユーザごとにまとめて返します。
func (h *Handler) CurrentRentals(c *gin.Context) {
	grouped, err := h.view.AllActive(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list active rentals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rentalBooksByUser": grouped})
}

// CurrentRentalsForUser は GET /admin/rental/current/:uid のハンドラーです。
func (h *Handler) CurrentRentalsForUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	result, err := h.view.ActiveFor(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list active rentals for user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func renderBook(b *store.Book) gin.H {
	return gin.H{
		"id":          b.ID,
		"isbn13":      b.ISBN13,
		"title":       b.Title,
		"author":      b.Author,
		"publishDate": b.PublishDate,
	}
}

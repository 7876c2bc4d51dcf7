package rental

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/auth"
	"github.com/yourusername/librental/internal/store"
)

// LedgerService はハンドラーが利用する台帳操作です。
type LedgerService interface {
	Start(ctx context.Context, bookID, userID int64) (*store.Rental, error)
	Return(ctx context.Context, rentalID, userID int64) error
	CurrentFor(ctx context.Context, userID int64) ([]store.RentalDetail, error)
	HistoryFor(ctx context.Context, userID int64) ([]store.RentalDetail, error)
}

// Handler は /rental 以下のハンドラー群です。RequireLogin の内側で使います。
type Handler struct {
	ledger LedgerService
}

// NewHandler は Handler を作成します。
func NewHandler(ledger LedgerService) *Handler {
	return &Handler{ledger: ledger}
}

type startRequest struct {
	BookID int64 `json:"bookId" binding:"required"`
}

// Start は POST /rental/start のハンドラーです。
func (h *Handler) Start(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}

	rental, err := h.ledger.Start(c.Request.Context(), req.BookID, p.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRented):
			c.JSON(http.StatusConflict, gin.H{"error": "Already rented"})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Book not found"})
		default:
			log.Error().Err(err).Int64("book_id", req.BookID).Msg("failed to start rental")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":             rental.ID,
		"bookId":         rental.BookID,
		"userId":         rental.UserID,
		"rentalDate":     rental.RentalDate,
		"returnDeadline": rental.ReturnDeadline,
		"returnDate":     nil,
	})
}

type returnRequest struct {
	RentalID int64 `json:"rentalId" binding:"required"`
}

// Return は PUT /rental/return のハンドラーです。
func (h *Handler) Return(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad Request"})
		return
	}

	if err := h.ledger.Return(c.Request.Context(), req.RentalID, p.ID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Rental not found"})
		case errors.Is(err, ErrAlreadyReturned):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Already returned"})
		default:
			log.Error().Err(err).Int64("rental_id", req.RentalID).Msg("failed to return rental")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": "OK"})
}

// Current は GET /rental/current のハンドラーです。未返却の貸出を返します。
func (h *Handler) Current(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	details, err := h.ledger.CurrentFor(c.Request.Context(), p.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", p.ID).Msg("failed to list current rentals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	now := time.Now().UTC()
	books := make([]gin.H, 0, len(details))
	for _, d := range details {
		books = append(books, gin.H{
			"rentalId":       d.RentalID,
			"bookId":         d.BookID,
			"bookName":       d.BookTitle,
			"rentalDate":     d.RentalDate,
			"returnDeadline": d.ReturnDeadline,
			// 延滞は期限から都度計算する。バックグラウンドのタイマーは持たない。
			"overdue": now.After(d.ReturnDeadline),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rentalBooks": books})
}

// History は GET /rental/history のハンドラーです。返却済みの貸出を返します。
func (h *Handler) History(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	details, err := h.ledger.HistoryFor(c.Request.Context(), p.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", p.ID).Msg("failed to list rental history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	history := make([]gin.H, 0, len(details))
	for _, d := range details {
		history = append(history, gin.H{
			"rentalId":       d.RentalID,
			"bookId":         d.BookID,
			"bookName":       d.BookTitle,
			"rentalDate":     d.RentalDate,
			"returnDeadline": d.ReturnDeadline,
			"returnDate":     d.ReturnDate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rentalHistory": history})
}

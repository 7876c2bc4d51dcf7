// Package auth は認証・認可機能を提供します。
// パスワードのハッシュ導出と検証、セッションによるログイン状態の管理、
// ログイン必須・管理者必須のミドルウェアをまとめています。
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/store"
)

// ContextPrincipalKey は、ハンドラー間でログイン済みPrincipalを共有するためのキーです。
const ContextPrincipalKey = "auth.principal"

// 未知のemailでもパスワード不一致でも同じメッセージを返します。
// アカウントの存在を推測されないための仕様です。
const msgInvalidCredentials = "invalid email and/or password."

// UserStore はManagerが必要とするユーザ永続化の操作です。
type UserStore interface {
	Create(ctx context.Context, u *store.User) (int64, error)
	FindByEmail(ctx context.Context, email string) (*store.User, error)
}

// Throttle はログイン試行の制限を提供します。nil の場合は無効です。
type Throttle interface {
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
	RecordFailure(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	users    UserStore
	hasher   *Hasher
	throttle Throttle
}

// NewManager は認証マネージャーを作成します。throttle は nil でも構いません。
func NewManager(users UserStore, hasher *Hasher, throttle Throttle) *Manager {
	return &Manager{
		users:    users,
		hasher:   hasher,
		throttle: throttle,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /users/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "email と password を JSON で送ってください",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(c, ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message": "too many attempts",
		})
		return
	}

	user, err := m.users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// ユーザがいない
			m.recordFailure(c, ip)
			c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidCredentials})
			return
		}
		log.Error().Err(err).Msg("user lookup failed during login")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}

	ok, err := m.hasher.Verify(req.Password, user.Salt, user.Password)
	if err != nil {
		log.Error().Err(err).Msg("password verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}
	if !ok {
		// パスワードが異なる
		m.recordFailure(c, ip)
		c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidCredentials})
		return
	}

	m.resetAttempts(c, ip)

	session := sessions.Default(c)
	storePrincipal(session, Principal{ID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin})
	if err := session.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save session")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register は POST /users/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "username and/or password is empty"})
		return
	}

	// 空白のみの入力も未入力として扱う
	if strings.TrimSpace(req.Name) == "" ||
		strings.TrimSpace(req.Email) == "" ||
		strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "username and/or password is empty"})
		return
	}

	salt, err := m.hasher.GenerateSalt()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate salt")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}
	hashed, err := m.hasher.ComputeHash(req.Password, salt)
	if err != nil {
		log.Error().Err(err).Msg("failed to compute password hash")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}

	_, err = m.users.Create(c.Request.Context(), &store.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: hashed,
		Salt:     salt,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "name or email is already registered"})
			return
		}
		log.Error().Err(err).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "created!"})
}

// Logout は GET /users/logout のハンドラーです。
// セッションが無い状態で呼ばれてもエラーにはしません（冪等）。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		log.Error().Err(err).Msg("failed to clear session")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unknown error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "OK"})
}

// Index は GET /users/ のハンドラーです。ログイン状態を返します。
func (m *Manager) Index(c *gin.Context) {
	if _, ok := m.sessionPrincipal(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged in"})
}

// Check は GET /users/check のハンドラーです。
func (m *Manager) Check(c *gin.Context) {
	p, ok := m.sessionPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"result": "NG"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  "OK",
		"isAdmin": p.IsAdmin,
	})
}

// RequireLogin はセッションを検証するミドルウェアを返します。
// 未認証の場合はデータストアに触れる前に 401 で打ち切ります。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := m.sessionPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(ContextPrincipalKey, p)
		c.Next()
	}
}

// RequireAdmin は管理者権限を検証するミドルウェアを返します。
// RequireLogin の後に並べて使用します。
func (m *Manager) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFromContext(c)
		if !ok || !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// PrincipalFromContext は RequireLogin が格納したPrincipalを取り出します。
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	v, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// sessionPrincipal はセッションからPrincipalを復元します。
// レコードが壊れている場合はログに残し、未認証として扱います。
func (m *Manager) sessionPrincipal(c *gin.Context) (Principal, bool) {
	session := sessions.Default(c)
	p, ok, err := principalFromSession(session)
	if err != nil {
		log.Warn().Err(err).Msg("discarding corrupt session record")
		session.Clear()
		_ = session.Save()
		return Principal{}, false
	}
	return p, ok
}

// checkLock はロック中なら解除までの時間を返します。
// スロットルストアの障害でログインを止めないため、エラー時は素通しします。
func (m *Manager) checkLock(c *gin.Context, ip string) time.Duration {
	if m.throttle == nil {
		return 0
	}
	retryAfter, err := m.throttle.RetryAfter(c.Request.Context(), ip)
	if err != nil {
		log.Warn().Err(err).Msg("login throttle check failed")
		return 0
	}
	return retryAfter
}

func (m *Manager) recordFailure(c *gin.Context, ip string) {
	if m.throttle == nil {
		return
	}
	if _, err := m.throttle.RecordFailure(c.Request.Context(), ip); err != nil {
		log.Warn().Err(err).Msg("failed to record login failure")
	}
}

func (m *Manager) resetAttempts(c *gin.Context, ip string) {
	if m.throttle == nil {
		return
	}
	if err := m.throttle.Reset(c.Request.Context(), ip); err != nil {
		log.Warn().Err(err).Msg("failed to reset login attempts")
	}
}

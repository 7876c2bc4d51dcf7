// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	sessionsredis "github.com/gin-contrib/sessions/redis"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/librental/internal/admin"
	"github.com/yourusername/librental/internal/auth"
	"github.com/yourusername/librental/internal/book"
	"github.com/yourusername/librental/internal/config"
	"github.com/yourusername/librental/internal/rental"
	"github.com/yourusername/librental/internal/store"
)

const sessionCookieName = "lr_session"

func main() {
	// ロガーの設定
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// データストアへの接続（プロセス起動時に開き、シャットダウン時に閉じる）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	// ログイン試行制限用のRedisクライアント
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.SessionRedisAddr,
		Password: cfg.SessionRedisPassword,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}()

	router, err := buildRouter(cfg, db, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	// サーバーの起動
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down server gracefully")
	}
}

// buildRouter はミドルウェアとルーティングの配線を行います。
func buildRouter(cfg *config.Config, db *store.DB, rdb *goredis.Client) (*gin.Engine, error) {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.Use(requestID())

	// セッションストアの設定（Redisに永続化、クッキーにはセッションIDのみ）
	sessionStore, err := sessionsredis.NewStore(
		10, "tcp", cfg.SessionRedisAddr, "", cfg.SessionRedisPassword, []byte(cfg.SessionSecret))
	if err != nil {
		return nil, err
	}
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAgeMinutes * 60,
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(sessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// 各コンポーネントの組み立て
	users := store.NewUserStore(db)
	books := store.NewBookStore(db)
	rentals := store.NewRentalStore(db)

	hasher := auth.NewHasher(cfg.MaxConcurrentHashes)
	throttle := auth.NewRedisThrottle(rdb,
		time.Duration(cfg.LoginWindowMinutes)*time.Minute,
		time.Duration(cfg.LoginLockMinutes)*time.Minute,
		cfg.LoginMaxAttempts,
	)
	authManager := auth.NewManager(users, hasher, throttle)

	ledger := rental.NewLedger(rentals, books, time.Duration(cfg.LoanPeriodDays)*24*time.Hour)
	rentalHandler := rental.NewHandler(ledger)
	bookHandler := book.NewHandler(books, ledger, cfg.PageSize)
	adminHandler := admin.NewHandler(books, admin.NewView(rentals, users))

	setupRoutes(router, authManager, bookHandler, rentalHandler, adminHandler)

	return router, nil
}

// setupRoutes はエンドポイントと認証ミドルウェアの配線を行います。
func setupRoutes(
	router *gin.Engine,
	authManager *auth.Manager,
	bookHandler *book.Handler,
	rentalHandler *rental.Handler,
	adminHandler *admin.Handler,
) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	usersRoutes := router.Group("/users")
	{
		usersRoutes.GET("/", authManager.Index)
		usersRoutes.GET("/check", authManager.Check)
		usersRoutes.POST("/login", authManager.Login)
		usersRoutes.POST("/register", authManager.Register)
		usersRoutes.GET("/logout", authManager.Logout)
	}

	bookRoutes := router.Group("/book", authManager.RequireLogin())
	{
		bookRoutes.GET("/list", bookHandler.List)
		bookRoutes.GET("/detail/:id", bookHandler.Detail)
	}

	rentalRoutes := router.Group("/rental", authManager.RequireLogin())
	{
		rentalRoutes.POST("/start", rentalHandler.Start)
		rentalRoutes.PUT("/return", rentalHandler.Return)
		rentalRoutes.GET("/current", rentalHandler.Current)
		rentalRoutes.GET("/history", rentalHandler.History)
	}

	adminRoutes := router.Group("/admin", authManager.RequireLogin(), authManager.RequireAdmin())
	{
		adminRoutes.POST("/book/create", adminHandler.CreateBook)
		adminRoutes.PUT("/book/update", adminHandler.UpdateBook)
		adminRoutes.GET("/rental/current", adminHandler.CurrentRentals)
		adminRoutes.GET("/rental/current/:uid", adminHandler.CurrentRentalsForUser)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "librental-api",
		"version": "0.1.0",
	})
}

// requestID は各リクエストに識別子を付与するミドルウェアです。
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データストア設定
	DatabaseURL string // PostgreSQL接続DSN

	// セッション設定
	SessionSecret        string // セッション署名用の秘密鍵
	SessionRedisAddr     string // セッションストア用Redisアドレス (host:port)
	SessionRedisPassword string // セッションストア用Redisパスワード
	SessionMaxAgeMinutes int    // セッションの有効期限（分）

	// 貸出設定
	LoanPeriodDays int // 貸出期間（日）。返却期限の計算に使用
	PageSize       int // 書籍一覧の1ページあたりの件数

	// ログイン試行制限
	LoginMaxAttempts   int // ロックまでの失敗回数
	LoginWindowMinutes int // 失敗回数をカウントする時間幅（分）
	LoginLockMinutes   int // ロック時間（分）

	// パスワードハッシュ設定
	MaxConcurrentHashes int // scrypt導出の同時実行数上限
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3040"),

		// データストア設定
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/librental"),

		// セッション設定
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		SessionRedisAddr:     getEnv("SESSION_REDIS_ADDR", "127.0.0.1:6379"),
		SessionRedisPassword: getEnv("SESSION_REDIS_PASSWORD", ""),
		SessionMaxAgeMinutes: getEnvAsInt("SESSION_MAX_AGE_MINUTES", 60),

		// 貸出設定
		LoanPeriodDays: getEnvAsInt("LOAN_PERIOD_DAYS", 14),
		PageSize:       getEnvAsInt("PAGE_SIZE", 10),

		// ログイン試行制限
		LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindowMinutes: getEnvAsInt("LOGIN_WINDOW_MINUTES", 15),
		LoginLockMinutes:   getEnvAsInt("LOGIN_LOCK_MINUTES", 10),

		// パスワードハッシュ設定
		MaxConcurrentHashes: getEnvAsInt("MAX_CONCURRENT_HASHES", 2),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発ではセッション秘密鍵は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.SessionRedisAddr == "" {
			return fmt.Errorf("SESSION_REDIS_ADDR is required in release mode")
		}
	}

	if c.LoanPeriodDays < 1 {
		return fmt.Errorf("LOAN_PERIOD_DAYS must be positive")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be positive")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

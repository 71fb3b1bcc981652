package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (Google)
	// クライアントIDが未設定でも起動は可能で、連携開始時にエラーになる。
	GoogleClientID     string
	GoogleClientSecret string

	// OAuth (Microsoft)
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string

	// Auth flow
	AuthFlowTimeout time.Duration
	OpenBrowser     bool

	// Sync
	FetchTimeout      time.Duration
	SyncMaxConcurrent int

	// Rate Limit
	RateLimitGeneral int
	RateLimitSync    int

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// OAuthクレデンシャルは任意。未設定のプロバイダーは連携開始時に
	// CALENDAR_CONFIG_MISSING として検出される。
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.MicrosoftClientID = os.Getenv("MICROSOFT_CLIENT_ID")
	cfg.MicrosoftClientSecret = os.Getenv("MICROSOFT_CLIENT_SECRET")
	cfg.MicrosoftTenant = getEnvString("MICROSOFT_TENANT", "common")

	// Optional fields with defaults
	cfg.AuthFlowTimeout = getEnvDuration("AUTH_FLOW_TIMEOUT", 5*time.Minute)
	cfg.OpenBrowser = getEnvBool("OPEN_BROWSER", true)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 4)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// CallbackURL はプロバイダーのOAuthリダイレクトURIを返す。
func (c *Config) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/auth/calendar/%s/callback", c.BaseURL, provider)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

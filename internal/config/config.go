package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 認証方式
const (
	AuthModeSession = "session"
	AuthModeJWT     = "jwt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthMode  string
	JWTSecret string
	JWTIssuer string

	// Social graph
	AllowSelfFollow bool
	GraphMaxRetries int
	StoreTimeout    time.Duration

	// Policy
	PolicyFile string

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Cache
	RedisURL         string
	UsernameCacheTTL time.Duration

	// Events
	NatsURL string

	// Observability
	TraceExporter string
	LogLevel      string

	// Workers
	AuditInterval     time.Duration
	AuditRecheckDelay time.Duration
	CleanupInterval   time.Duration

	// Server
	ServerPort        string
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AuthMode = strings.ToLower(getEnvString("AUTH_MODE", AuthModeSession))
	switch cfg.AuthMode {
	case AuthModeSession:
	case AuthModeJWT:
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
		if cfg.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE: %q", cfg.AuthMode)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "")
	cfg.AllowSelfFollow = getEnvBool("ALLOW_SELF_FOLLOW", true)
	cfg.GraphMaxRetries = getEnvInt("GRAPH_MAX_RETRIES", 5)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.PolicyFile = getEnvString("POLICY_FILE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.UsernameCacheTTL = getEnvDuration("USERNAME_CACHE_TTL", 10*time.Minute)
	cfg.NatsURL = getEnvString("NATS_URL", "")
	cfg.TraceExporter = getEnvString("TRACE_EXPORTER", "none")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.AuditInterval = getEnvDuration("AUDIT_INTERVAL", time.Hour)
	cfg.AuditRecheckDelay = getEnvDuration("AUDIT_RECHECK_DELAY", 2*time.Second)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
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

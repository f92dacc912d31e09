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

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// remove.bg
	RemoveBGAPIKey   string
	RemoveBGEndpoint string
	RemoveBGTimeout  time.Duration
	RemoveBGSize     string
	AllowURLInput    bool

	// Upload / Staging
	UploadDir            string
	MaxUploadSize        int64
	StagingMaxAge        time.Duration
	StagingSweepInterval time.Duration

	// Rate Limit (req/min/user)
	RateLimitGeneral int
	RateLimitRemoval int

	// Archive (S3互換ストレージ。バケット未設定なら無効)
	ArchiveBucket          string
	ArchiveRegion          string
	ArchiveEndpoint        string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
	ArchivePrefix          string

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// ArchiveEnabled は処理済み画像のアーカイブが有効かどうかを返す。
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

// MaxUploadSizeLimit はMAX_UPLOAD_SIZEに指定できる上限（10MiB）。
// これを超える値や0以下の値はこの上限に丸める。
const MaxUploadSizeLimit int64 = 10 * 1024 * 1024

// Role は設定を読み込むサブコマンドの種類。種類ごとに必須の環境変数が異なる。
type Role int

const (
	// RoleServe はAPIサーバー。DB、JWT、remove.bgの認証情報をすべて必須とする。
	RoleServe Role = iota
	// RoleWorker はステージングのスイーパーのみを動かすワーカー。必須の環境変数はない。
	RoleWorker
	// RoleMigrate はマイグレーション。DATABASE_URLのみ必須とする。
	RoleMigrate
)

// Load はAPIサーバー用にConfigを読み込む。LoadFor(RoleServe)と同じ。
func Load() (*Config, error) {
	return LoadFor(RoleServe)
}

// LoadFor は環境変数からConfigを読み込む。
// roleで必須となる環境変数が未設定の場合は、不足しているものをすべて列挙したエラーを返す。
// REMOVE_BG_API_KEY と JWT_SECRET にはデフォルト値を持たせない。
func LoadFor(role Role) (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		// 旧構成の接続文字列名も受け付ける
		cfg.DatabaseURL = os.Getenv("MONGO_URI")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.RemoveBGAPIKey = strings.TrimSpace(os.Getenv("REMOVE_BG_API_KEY"))

	// Required fields
	var missing []string
	if role == RoleServe || role == RoleMigrate {
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	}
	if role == RoleServe {
		if cfg.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
		if cfg.RemoveBGAPIKey == "" {
			missing = append(missing, "REMOVE_BG_API_KEY")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTExpiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)
	cfg.RemoveBGEndpoint = getEnvString("REMOVE_BG_ENDPOINT", "https://api.remove.bg/v1.0/removebg")
	cfg.RemoveBGTimeout = getEnvDuration("REMOVE_BG_TIMEOUT", 60*time.Second)
	cfg.RemoveBGSize = getEnvString("REMOVE_BG_SIZE", "auto")
	cfg.AllowURLInput = getEnvBool("ALLOW_URL_INPUT", true)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "uploads")
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", MaxUploadSizeLimit)
	if cfg.MaxUploadSize <= 0 || cfg.MaxUploadSize > MaxUploadSizeLimit {
		cfg.MaxUploadSize = MaxUploadSizeLimit
	}
	cfg.StagingMaxAge = getEnvDuration("STAGING_MAX_AGE", time.Hour)
	cfg.StagingSweepInterval = getEnvDuration("STAGING_SWEEP_INTERVAL", 10*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRemoval = getEnvInt("RATE_LIMIT_REMOVAL", 10)
	cfg.ArchiveBucket = getEnvString("ARCHIVE_S3_BUCKET", "")
	cfg.ArchiveRegion = getEnvString("ARCHIVE_S3_REGION", "us-east-1")
	cfg.ArchiveEndpoint = getEnvString("ARCHIVE_S3_ENDPOINT", "")
	cfg.ArchiveAccessKeyID = getEnvString("ARCHIVE_S3_ACCESS_KEY_ID", "")
	cfg.ArchiveSecretAccessKey = getEnvString("ARCHIVE_S3_SECRET_ACCESS_KEY", "")
	cfg.ArchivePrefix = getEnvString("ARCHIVE_S3_PREFIX", "processed")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("PORT", getEnvString("SERVER_PORT", "8080"))
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

// getEnvDuration は0以下の値もデフォルト値として扱う。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

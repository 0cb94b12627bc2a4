package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by store.Open.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreS3     = "s3"
)

// Config aggregates runtime configuration for the client and its local services.
type Config struct {
	BackendURL       string
	BackendAPIPrefix string
	RequestTimeout   time.Duration

	AuthURL          string
	AuthAnonKey      string
	OAuthProvider    string
	OAuthScopes      []string
	OAuthRedirectURL string

	ListenAddr    string
	AdminUsername string
	AdminPassword string

	StoreDriver    string
	StoreDSN       string
	StoreNamespace string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3Prefix       string

	TelegramBotToken string
	TelegramChatID   int64

	PlanHint   string
	QRCodePath string

	LogLevel  string
	LogFormat string

	PaymentPollInterval   time.Duration
	PaymentGraceDelay     time.Duration
	JobPollInterval       time.Duration
	ProgressTickInterval  time.Duration
	CompleteRedirectDelay time.Duration
	CopiedAckDuration     time.Duration
}

// IdentityConfigured reports whether the identity provider integration is set up.
func (c Config) IdentityConfigured() bool {
	return c.AuthURL != "" && c.AuthAnonKey != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultBackendURL = "http://localhost:8000"

	listenAddr := getEnv("LISTEN_ADDR", "127.0.0.1:8787")
	cfg := Config{
		BackendURL:       normalizeBaseURL(getEnv("BACKEND_URL", defaultBackendURL), defaultBackendURL),
		BackendAPIPrefix: normalizePrefix(getEnv("BACKEND_API_PREFIX", "/api/v1")),
		RequestTimeout:   time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),

		AuthURL:          strings.TrimRight(os.Getenv("AUTH_URL"), "/"),
		AuthAnonKey:      os.Getenv("AUTH_ANON_KEY"),
		OAuthProvider:    getEnv("OAUTH_PROVIDER", "github"),
		OAuthScopes:      strings.Fields(getEnv("OAUTH_SCOPES", "read:user user:email repo")),
		OAuthRedirectURL: getEnv("OAUTH_REDIRECT_URL", "http://"+listenAddr+"/auth/callback"),

		ListenAddr:    listenAddr,
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		StoreDSN:       os.Getenv("STORE_DSN"),
		StoreNamespace: getEnv("STORE_NAMESPACE", "flashgen"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getInt("REDIS_DB", 0),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       os.Getenv("S3_REGION"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3UsePathStyle: getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:       getEnv("S3_PREFIX", "flashgen"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   getInt64("TELEGRAM_CHAT_ID", 0),

		PlanHint:   os.Getenv("PLAN_HINT"),
		QRCodePath: getEnv("QR_CODE_PATH", "payment-qr.png"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		PaymentPollInterval:   getDuration("PAYMENT_POLL_INTERVAL", 3*time.Second),
		PaymentGraceDelay:     getDuration("PAYMENT_GRACE_DELAY", 1500*time.Millisecond),
		JobPollInterval:       getDuration("JOB_POLL_INTERVAL", 3*time.Second),
		ProgressTickInterval:  getDuration("PROGRESS_TICK_INTERVAL", 800*time.Millisecond),
		CompleteRedirectDelay: getDuration("COMPLETE_REDIRECT_DELAY", 2*time.Second),
		CopiedAckDuration:     getDuration("COPIED_ACK_DURATION", 2*time.Second),
	}

	if cfg.StoreDSN == "" && cfg.StoreDriver == StoreSQLite {
		cfg.StoreDSN = defaultSQLitePath()
	}

	var missing []string
	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite, StoreRedis:
	case StoreMySQL:
		if cfg.StoreDSN == "" {
			missing = append(missing, "STORE_DSN")
		}
	case StoreS3:
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
	default:
		return Config{}, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID == 0 {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL trims trailing slashes and fills in a scheme for bare hosts.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "flashgen.db"
	}
	return filepath.Join(dir, "flashgen", "flashgen.db")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile loads the first env file found. A missing file is not an error:
// the process environment alone is a valid configuration.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
	Abuse     AbuseConfig
	Challenge ChallengeConfig
	Store     StoreConfig
	Redis     RedisConfig
	R2        R2Config
	Engines   EnginesConfig
}

type ServerConfig struct {
	Host        string
	Port        string
	LogLevel    string
	CORSOrigins []string
}

type StorageConfig struct {
	DataDir       string
	ArtifactStore string // "local" or "r2"
}

func (c StorageConfig) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

func (c StorageConfig) ConvertedDir() string {
	return filepath.Join(c.DataDir, "converted")
}

type JobsConfig struct {
	TTL            time.Duration
	MaxUploadBytes int64
	ReaperSchedule string
}

type RateLimitConfig struct {
	ConvertWindow time.Duration
	ConvertMax    int
	ReadWindow    time.Duration
	ReadMax       int
}

type AbuseConfig struct {
	Backend               string // "memory" or "redis"
	MaxActiveConversions  int
	DuplicateUploadWindow time.Duration
}

type ChallengeConfig struct {
	Provider  string // "none", "turnstile" or "hcaptcha"
	SecretKey string
}

type StoreConfig struct {
	Driver      string // "sqlite", "postgres", "redis" or "memory"
	SQLitePath  string
	DatabaseURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
}

type EnginesConfig struct {
	RendererBin     string
	BrowserBin      string
	PandocBin       string
	SofficeBin      string
	RendererTimeout time.Duration
	PandocTimeout   time.Duration
	OfficeTimeout   time.Duration
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("CHALLENGE_SECRET_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables to nested config keys
	_ = v.BindEnv("server.host", "HOST")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.cors_origins", "CORS_ORIGINS")
	_ = v.BindEnv("storage.data_dir", "DATA_DIR")
	_ = v.BindEnv("storage.artifact_store", "ARTIFACT_STORE")
	_ = v.BindEnv("jobs.ttl_minutes", "TTL_MINUTES")
	_ = v.BindEnv("jobs.max_upload_mb", "MAX_UPLOAD_MB")
	_ = v.BindEnv("jobs.reaper_schedule", "REAPER_SCHEDULE")
	_ = v.BindEnv("ratelimit.convert_window_ms", "CONVERT_RATE_WINDOW_MS")
	_ = v.BindEnv("ratelimit.convert_max", "CONVERT_RATE_MAX")
	_ = v.BindEnv("ratelimit.read_window_ms", "READ_RATE_WINDOW_MS")
	_ = v.BindEnv("ratelimit.read_max", "READ_RATE_MAX")
	_ = v.BindEnv("abuse.backend", "ABUSE_BACKEND")
	_ = v.BindEnv("abuse.max_active_per_ip", "MAX_ACTIVE_CONVERSIONS_PER_IP")
	_ = v.BindEnv("abuse.duplicate_window_ms", "DUPLICATE_WINDOW_MS")
	_ = v.BindEnv("challenge.provider", "CHALLENGE_PROVIDER")
	_ = v.BindEnv("challenge.secret_key", "CHALLENGE_SECRET_KEY")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.sqlite_path", "SQLITE_PATH")
	_ = v.BindEnv("store.database_url", "DATABASE_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("engines.renderer_bin", "RENDERER_BIN")
	_ = v.BindEnv("engines.browser_bin", "BROWSER_BIN")
	_ = v.BindEnv("engines.pandoc_bin", "PANDOC_BIN")
	_ = v.BindEnv("engines.soffice_bin", "SOFFICE_BIN")
	_ = v.BindEnv("engines.renderer_timeout_sec", "RENDERER_TIMEOUT_SEC")
	_ = v.BindEnv("engines.pandoc_timeout_sec", "PANDOC_TIMEOUT_SEC")
	_ = v.BindEnv("engines.office_timeout_sec", "OFFICE_TIMEOUT_SEC")

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origins", "")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.artifact_store", "local")
	v.SetDefault("jobs.ttl_minutes", 30)
	v.SetDefault("jobs.max_upload_mb", 250)
	v.SetDefault("jobs.reaper_schedule", "@every 1m")
	v.SetDefault("ratelimit.convert_window_ms", 10*60*1000)
	v.SetDefault("ratelimit.convert_max", 8)
	v.SetDefault("ratelimit.read_window_ms", 60*1000)
	v.SetDefault("ratelimit.read_max", 120)
	v.SetDefault("abuse.backend", "memory")
	v.SetDefault("abuse.max_active_per_ip", 2)
	v.SetDefault("abuse.duplicate_window_ms", 2*60*1000)
	v.SetDefault("challenge.provider", "none")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Engine defaults
	v.SetDefault("engines.renderer_bin", "chrome-headless-shell")
	v.SetDefault("engines.pandoc_bin", "pandoc")
	v.SetDefault("engines.soffice_bin", "soffice")
	v.SetDefault("engines.renderer_timeout_sec", 45)
	v.SetDefault("engines.pandoc_timeout_sec", 60)
	v.SetDefault("engines.office_timeout_sec", 90)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	dataDir := v.GetString("storage.data_dir")
	sqlitePath := v.GetString("store.sqlite_path")
	if sqlitePath == "" {
		sqlitePath = filepath.Join(dataDir, "docspark.db")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetString("server.port"),
			LogLevel:    v.GetString("server.log_level"),
			CORSOrigins: splitList(v.GetString("server.cors_origins")),
		},
		Storage: StorageConfig{
			DataDir:       dataDir,
			ArtifactStore: strings.ToLower(v.GetString("storage.artifact_store")),
		},
		Jobs: JobsConfig{
			TTL:            time.Duration(v.GetInt("jobs.ttl_minutes")) * time.Minute,
			MaxUploadBytes: v.GetInt64("jobs.max_upload_mb") * 1024 * 1024,
			ReaperSchedule: v.GetString("jobs.reaper_schedule"),
		},
		RateLimit: RateLimitConfig{
			ConvertWindow: millis(v.GetInt64("ratelimit.convert_window_ms")),
			ConvertMax:    v.GetInt("ratelimit.convert_max"),
			ReadWindow:    millis(v.GetInt64("ratelimit.read_window_ms")),
			ReadMax:       v.GetInt("ratelimit.read_max"),
		},
		Abuse: AbuseConfig{
			Backend:               strings.ToLower(v.GetString("abuse.backend")),
			MaxActiveConversions:  v.GetInt("abuse.max_active_per_ip"),
			DuplicateUploadWindow: millis(v.GetInt64("abuse.duplicate_window_ms")),
		},
		Challenge: ChallengeConfig{
			Provider:  strings.ToLower(v.GetString("challenge.provider")),
			SecretKey: v.GetString("challenge.secret_key"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			SQLitePath:  sqlitePath,
			DatabaseURL: v.GetString("store.database_url"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
		},
		Engines: EnginesConfig{
			RendererBin:     v.GetString("engines.renderer_bin"),
			BrowserBin:      v.GetString("engines.browser_bin"),
			PandocBin:       v.GetString("engines.pandoc_bin"),
			SofficeBin:      v.GetString("engines.soffice_bin"),
			RendererTimeout: time.Duration(v.GetInt("engines.renderer_timeout_sec")) * time.Second,
			PandocTimeout:   time.Duration(v.GetInt("engines.pandoc_timeout_sec")) * time.Second,
			OfficeTimeout:   time.Duration(v.GetInt("engines.office_timeout_sec")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Jobs.TTL <= 0 {
		return errors.New("TTL_MINUTES must be positive")
	}
	if c.Jobs.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_MB must be positive")
	}
	if c.RateLimit.ConvertWindow <= 0 || c.RateLimit.ReadWindow <= 0 {
		return errors.New("rate limit windows must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "memory", "redis":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return errors.Newf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Abuse.Backend {
	case "memory", "redis":
	default:
		return errors.Newf("unsupported ABUSE_BACKEND %q", c.Abuse.Backend)
	}
	switch c.Storage.ArtifactStore {
	case "local":
	case "r2":
		if c.R2.AccountID == "" || c.R2.AccessKeyID == "" || c.R2.SecretAccessKey == "" || c.R2.BucketName == "" {
			return errors.New("R2 configuration incomplete")
		}
	default:
		return errors.Newf("unsupported ARTIFACT_STORE %q", c.Storage.ArtifactStore)
	}
	return nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func splitList(raw string) []string {
	ret := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

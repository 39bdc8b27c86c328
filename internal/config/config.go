package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Survey definition sources
const (
	SourceFile  = "file"
	SourceMongo = "mongo"
)

type Config struct {
	MongoURI string
	MongoDB  string
	RedisURI string
	Port     string

	SurveySource string
	SurveyDir    string
	TableDir     string

	// ModeTest swaps Mongo and Redis for in-process stores
	ModeTest bool

	SessionTTL     time.Duration
	SurveyCacheTTL time.Duration
	LogLevel       string

	CleanupCron    string
	AbandonedAfter time.Duration

	RateLimit      float64
	RateBurst      int
	AllowedOrigins string
	SecureCookies  bool
}

// Load reads the environment after merging the given .env files (".env" when
// none is named). A missing default .env is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "load .env")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, errors.Wrap(err, "load env files")
	}

	p := &parser{}
	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "surveys"),
		RedisURI: getEnv("REDIS_URI", "localhost:6379"),
		Port:     getEnv("PORT", "8080"),

		SurveySource: getEnv("SURVEY_SOURCE", SourceFile),
		SurveyDir:    getEnv("SURVEY_DIR", "data/surveys"),
		TableDir:     getEnv("TABLE_DIR", "data/tables"),

		ModeTest: p.bool("MODE_TEST", false),

		SessionTTL:     p.duration("SESSION_TTL", 24*time.Hour),
		SurveyCacheTTL: p.duration("SURVEY_CACHE_TTL", 10*time.Minute),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		CleanupCron:    getEnv("CLEANUP_CRON", "@every 1h"),
		AbandonedAfter: p.duration("ABANDONED_AFTER", 30*24*time.Hour),

		RateLimit:      p.float("RATE_LIMIT", 10),
		RateBurst:      p.int("RATE_BURST", 20),
		AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		SecureCookies:  p.bool("SECURE_COOKIES", false),
	}
	if p.err != nil {
		return nil, p.err
	}
	if cfg.SurveySource != SourceFile && cfg.SurveySource != SourceMongo {
		return nil, errors.Errorf("SURVEY_SOURCE must be %q or %q, got %q", SourceFile, SourceMongo, cfg.SurveySource)
	}
	return cfg, nil
}

// RedisAddr strips the redis:// scheme the deployment files use
func (c *Config) RedisAddr() string {
	return strings.TrimPrefix(c.RedisURI, "redis://")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// parser keeps the first conversion error
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "invalid %s", key)
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) float(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) int(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

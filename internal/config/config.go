// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from VODUB_* environment
// variables and validates it before anything starts.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	// Server
	Port       int
	LogLevel   string
	Production bool

	// Backends
	QueueURL string // redis address, redis://[:pass@]host:port[/db]
	DBPath   string

	// Filesystem
	MediaRoot      string
	MinFreeSpaceGB float64

	// Auth
	JWTSecret     string
	JWTExpiresIn  time.Duration
	AdminUsername string
	AdminPassword string

	// Queue concurrency
	DownloadConcurrency int
	DubbingConcurrency  int
	MuxingConcurrency   int

	// Job defaults
	DefaultTargetLang   string
	DefaultContainer    string
	DefaultFormatPreset string
	Proxy               string
	RateLimit           string

	// Mux defaults
	DuckingLevel      float64
	NormalizationLufs float64
}

// Load reads the environment and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("VODUB_PORT", 8080),
		LogLevel:            envStr("VODUB_LOG_LEVEL", "info"),
		Production:          envStr("VODUB_ENV", "development") == "production",
		QueueURL:            envStr("VODUB_QUEUE_URL", "redis://localhost:6379"),
		DBPath:              envStr("VODUB_DB_PATH", "vodub.db"),
		MediaRoot:           envStr("VODUB_MEDIA_ROOT", "media"),
		MinFreeSpaceGB:      envFloat("VODUB_MIN_FREE_SPACE_GB", 1),
		JWTSecret:           envStr("VODUB_JWT_SECRET", ""),
		JWTExpiresIn:        envDuration("VODUB_JWT_EXPIRES_IN", 24*time.Hour),
		AdminUsername:       envStr("VODUB_ADMIN_USERNAME", ""),
		AdminPassword:       envStr("VODUB_ADMIN_PASSWORD", ""),
		DownloadConcurrency: envInt("VODUB_DOWNLOAD_CONCURRENCY", 1),
		DubbingConcurrency:  envInt("VODUB_DUBBING_CONCURRENCY", 2),
		MuxingConcurrency:   envInt("VODUB_MUXING_CONCURRENCY", 2),
		DefaultTargetLang:   envStr("VODUB_DEFAULT_TARGET_LANG", "ru"),
		DefaultContainer:    envStr("VODUB_DEFAULT_CONTAINER", "mp4"),
		DefaultFormatPreset: envStr("VODUB_DEFAULT_FORMAT_PRESET", "best"),
		Proxy:               envStr("VODUB_PROXY", ""),
		RateLimit:           envStr("VODUB_RATE_LIMIT", ""),
		DuckingLevel:        envFloat("VODUB_DUCKING_LEVEL", 0.3),
		NormalizationLufs:   envFloat("VODUB_NORMALIZATION_LUFS", -16),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon must not start with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DownloadConcurrency < 1 || c.DubbingConcurrency < 1 || c.MuxingConcurrency < 1 {
		return errors.New("queue concurrency must be at least 1")
	}
	if c.MinFreeSpaceGB < 0 {
		return errors.New("minFreeSpaceGb must not be negative")
	}
	if c.DuckingLevel < 0 || c.DuckingLevel > 1 {
		return fmt.Errorf("duckingLevel %v out of range [0,1]", c.DuckingLevel)
	}
	if c.Production {
		// Two upstream variants disagreed on defaulting admin
		// credentials; production refuses to start without them.
		if c.AdminUsername == "" || c.AdminPassword == "" {
			return errors.New("production requires VODUB_ADMIN_USERNAME and VODUB_ADMIN_PASSWORD")
		}
		if c.JWTSecret == "" {
			return errors.New("production requires VODUB_JWT_SECRET")
		}
	}
	return nil
}

// MinFreeBytes converts the configured threshold for the backpressure
// check.
func (c Config) MinFreeBytes() uint64 {
	return uint64(c.MinFreeSpaceGB * (1 << 30))
}

// RedactURL strips credentials from a broker URL for logging. The
// string is rebuilt by hand; url.String would percent-encode the
// placeholder userinfo.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	if u.User == nil {
		return u.String()
	}
	out := u.Scheme + "://***@" + u.Host + u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

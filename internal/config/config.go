// Package config loads the gateway configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	TelegramConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetShutdownTimeout() time.Duration
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type SessionConfig interface {
	GetGateMode() string
	GetSessionIdleTTL() time.Duration
	GetEvictionInterval() time.Duration
}

type TelegramConfig interface {
	GetSessionStorage() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
	GetUploadDir() string
	GetMaxUploadBytes() int64
	GetDefaultTarget() string
}

// Session storage backends for the Telegram client.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type mainConfig struct {
	EnvVars
	Cors
	Session
	Telegram
}

// settings is the flat view Viper unmarshals into.
type settings struct {
	Port             string `mapstructure:"PORT"`
	AppName          string `mapstructure:"APP_NAME"`
	Env              string `mapstructure:"ENV"`
	DataFolder       string `mapstructure:"DATA_FOLDER"`
	ShutdownTimeout  string `mapstructure:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins   string `mapstructure:"ALLOWED_ORIGINS"`
	GateMode         string `mapstructure:"GATE_MODE"`
	SessionIdleTTL   string `mapstructure:"SESSION_IDLE_TTL"`
	EvictionInterval string `mapstructure:"EVICTION_INTERVAL"`
	SessionStorage   string `mapstructure:"SESSION_STORAGE"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix   string `mapstructure:"REDIS_KEY_PREFIX"`
	UploadDir        string `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes   int64  `mapstructure:"MAX_UPLOAD_BYTES"`
	DefaultTarget    string `mapstructure:"DEFAULT_TARGET"`
}

// Load reads .env (if present), then builds and validates the configuration
// from the environment. Environment variables override .env.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_NAME", "TG Session Gateway")
	v.SetDefault("ENV", "DEV")
	v.SetDefault("DATA_FOLDER", "./data")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("GATE_MODE", "global")
	v.SetDefault("SESSION_IDLE_TTL", "0")
	v.SetDefault("EVICTION_INTERVAL", "1m")
	v.SetDefault("SESSION_STORAGE", StorageFile)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "tgsession")
	v.SetDefault("UPLOAD_DIR", os.TempDir())
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)
	v.SetDefault("DEFAULT_TARGET", "me")

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s.build()
}

func (s settings) build() (Config, error) {
	if s.Port == "" {
		return nil, errors.New("config: PORT must be set")
	}

	shutdown, err := parseDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	if err != nil {
		return nil, err
	}
	idle, err := parseDuration("SESSION_IDLE_TTL", s.SessionIdleTTL)
	if err != nil {
		return nil, err
	}
	interval, err := parseDuration("EVICTION_INTERVAL", s.EvictionInterval)
	if err != nil {
		return nil, err
	}
	if idle > 0 && interval <= 0 {
		return nil, errors.New("config: EVICTION_INTERVAL must be positive when SESSION_IDLE_TTL is set")
	}

	gateMode := strings.ToLower(strings.TrimSpace(s.GateMode))
	switch gateMode {
	case "", "global", "identity":
	default:
		return nil, fmt.Errorf("config: GATE_MODE must be global or identity, got %q", s.GateMode)
	}

	storage := strings.ToLower(strings.TrimSpace(s.SessionStorage))
	switch storage {
	case StorageFile, StorageMemory:
	case StorageRedis:
		if s.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when SESSION_STORAGE=redis")
		}
	default:
		return nil, fmt.Errorf("config: SESSION_STORAGE must be file, redis or memory, got %q", s.SessionStorage)
	}

	if s.MaxUploadBytes <= 0 {
		return nil, errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}

	return mainConfig{
		EnvVars: EnvVars{
			port:            s.Port,
			appName:         s.AppName,
			env:             s.Env,
			dataFolder:      s.DataFolder,
			shutdownTimeout: shutdown,
		},
		Cors: Cors{allowedOrigins: parseOrigins(s.AllowedOrigins)},
		Session: Session{
			gateMode:         gateMode,
			idleTTL:          idle,
			evictionInterval: interval,
		},
		Telegram: Telegram{
			storage:        storage,
			redisAddr:      s.RedisAddr,
			redisPassword:  s.RedisPassword,
			redisDB:        s.RedisDB,
			redisKeyPrefix: s.RedisKeyPrefix,
			uploadDir:      s.UploadDir,
			maxUploadBytes: s.MaxUploadBytes,
			defaultTarget:  s.DefaultTarget,
		},
	}, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: %s must be a non-negative duration, got %q", key, value)
	}
	return d, nil
}

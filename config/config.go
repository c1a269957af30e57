// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	configPath     = pflag.String("config", ".", "Directory containing config.toml")
	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
	validDrivers   = []string{"sqlite", "postgres"}

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// StorageConfig is the typed view of everything the attachment store needs
type StorageConfig struct {
	Root              string        `validate:"required"`
	MaxFileSize       int64         `validate:"gt=0"`
	MaxFilenameLength int           `validate:"gt=0,lte=1024"`
	BlockedExtensions []string      `validate:"dive,required,max=16"`
	ThumbnailMaxSide  int           `validate:"gte=16,lte=4096"`
	ThumbnailWorkers  int           `validate:"gte=1,lte=64"`
	ThumbnailQueue    int           `validate:"gte=0"`
	ThumbnailTimeout  time.Duration `validate:"gt=0"`
	FFmpegPath        string
	SessionTTL        time.Duration `validate:"gte=1m"`
	ReclaimSchedule   string        `validate:"required"`
}

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(*configPath)

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("jwt.secret", "jwt_secret")

	v.BindEnv("storage.root", "storage_root")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.blocked_extensions", "upload_blocked_extensions")
	v.BindEnv("upload.max_filename_length", "upload_max_filename_length")

	v.BindEnv("thumbnail.max_side", "thumbnail_max_side")
	v.BindEnv("thumbnail.workers", "thumbnail_workers")
	v.BindEnv("thumbnail.queue_size", "thumbnail_queue_size")
	v.BindEnv("thumbnail.timeout", "thumbnail_timeout")
	v.BindEnv("thumbnail.ffmpeg_path", "thumbnail_ffmpeg_path")

	v.BindEnv("session.ttl", "session_ttl")
	v.BindEnv("reclaim.schedule", "reclaim_schedule")

	v.BindEnv("security.rate_limit", "security_rate_limit")

	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file, %w", err)
		}
		// Environment variables alone are enough
	}

	return Check()
}

// SetDefaults registers the default value of every key
func SetDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", "http://localhost:5173")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("storage.root", "data/attachments")

	v.SetDefault("upload.max_size", 25)
	v.SetDefault("upload.blocked_extensions", []string{"exe", "bat", "cmd", "com", "msi", "scr", "ps1", "sh", "jar"})
	v.SetDefault("upload.max_filename_length", 255)

	v.SetDefault("thumbnail.max_side", 320)
	v.SetDefault("thumbnail.workers", 2)
	v.SetDefault("thumbnail.queue_size", 64)
	v.SetDefault("thumbnail.timeout", time.Minute)
	v.SetDefault("thumbnail.ffmpeg_path", "ffmpeg")

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("reclaim.schedule", "@daily")

	v.SetDefault("security.rate_limit", 10)
}

// Check validates the loaded values
func Check() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDrivers, v.GetString("db.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("db.driver") == "postgres" && v.GetString("db.dsn") == "" {
		return errors.New("postgres needs db.dsn")
	}

	if v.GetString("jwt.secret") == "" {
		return fmt.Errorf("no JWT secret set, put one into config.toml or JWT_SECRET. Here's a random one:\n\n%s", genSecret())
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	if v.GetInt("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if _, err := Storage(); err != nil {
		return err
	}

	return nil
}

// Storage returns the validated storage settings
func Storage() (StorageConfig, error) {
	c := StorageConfig{
		Root:              v.GetString("storage.root"),
		MaxFileSize:       v.GetInt64("upload.max_size") << 20,
		MaxFilenameLength: v.GetInt("upload.max_filename_length"),
		BlockedExtensions: normalizeExtensions(v.GetStringSlice("upload.blocked_extensions")),
		ThumbnailMaxSide:  v.GetInt("thumbnail.max_side"),
		ThumbnailWorkers:  v.GetInt("thumbnail.workers"),
		ThumbnailQueue:    v.GetInt("thumbnail.queue_size"),
		ThumbnailTimeout:  v.GetDuration("thumbnail.timeout"),
		FFmpegPath:        v.GetString("thumbnail.ffmpeg_path"),
		SessionTTL:        v.GetDuration("session.ttl"),
		ReclaimSchedule:   v.GetString("reclaim.schedule"),
	}

	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("invalid storage config, %w", err)
	}

	return c, nil
}

// CORSOrigins splits host.cors on commas
func CORSOrigins() []string {
	var origins []string

	for _, o := range strings.Split(v.GetString("host.cors"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return origins
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))

	for _, e := range exts {
		for _, part := range strings.Split(e, ",") {
			part = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
			if part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

// Package config loads postbox settings from a YAML file, a .env file and
// POSTBOX_* environment variables, and validates the result against an
// embedded CUE schema.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/scheduler"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendGitHub = "github"
)

// Config is the full settings tree. yaml and json names match so the same
// struct is decoded from YAML and encoded for schema validation.
type Config struct {
	Actor    string         `yaml:"actor" json:"actor,omitempty"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	Archive  ArchiveConfig  `yaml:"archive" json:"archive"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Site     SiteConfig     `yaml:"site" json:"site"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// StoreConfig selects the document backend.
type StoreConfig struct {
	Backend string       `yaml:"backend" json:"backend,omitempty"`
	Path    string       `yaml:"path" json:"path,omitempty"` // directory for file, database for sqlite
	GitHub  GitHubConfig `yaml:"github" json:"github"`
}

// GitHubConfig configures the GitHub backend.
type GitHubConfig struct {
	Owner             string  `yaml:"owner" json:"owner,omitempty"`
	Repo              string  `yaml:"repo" json:"repo,omitempty"`
	Branch            string  `yaml:"branch" json:"branch,omitempty"`
	Token             string  `yaml:"token" json:"token,omitempty"`
	APIURL            string  `yaml:"api_url" json:"api_url,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst" json:"burst,omitempty"`
}

// TelegramConfig configures the bot source.
type TelegramConfig struct {
	Token              string  `yaml:"token" json:"token,omitempty"`
	APIURL             string  `yaml:"api_url" json:"api_url,omitempty"`
	PollTimeoutSeconds int     `yaml:"poll_timeout_seconds" json:"poll_timeout_seconds"`
	AllowedChats       []int64 `yaml:"allowed_chats" json:"allowed_chats,omitempty"`
	MaxImageBytes      int     `yaml:"max_image_bytes" json:"max_image_bytes,omitempty"`
}

// ArchiveConfig holds sweep thresholds.
type ArchiveConfig struct {
	MaxActive  int `yaml:"max_active" json:"max_active"`
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`
}

// ScheduleConfig holds cron expressions for the serve loop. An empty
// expression disables that job.
type ScheduleConfig struct {
	Ingest  string `yaml:"ingest" json:"ingest,omitempty"`
	Publish string `yaml:"publish" json:"publish,omitempty"`
	Recover string `yaml:"recover" json:"recover,omitempty"`
}

// ServerConfig configures the review API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr,omitempty"`
}

// SiteConfig configures rendered output.
type SiteConfig struct {
	PostsDir string `yaml:"posts_dir" json:"posts_dir,omitempty"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty"`
	Format string `yaml:"format" json:"format,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Actor: docstore.DefaultActor,
		Store: StoreConfig{Backend: BackendFile, Path: "."},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Archive: ArchiveConfig{
			MaxActive:  archive.DefaultMaxActive,
			MaxAgeDays: archive.DefaultMaxAgeDays,
		},
		Schedule: ScheduleConfig{
			Ingest:  "*/5 * * * *",
			Publish: "0 * * * *",
			Recover: "*/30 * * * *",
		},
		Server:  ServerConfig{Addr: ":8080"},
		Site:    SiteConfig{PostsDir: "content/posts"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Limits converts the archive section.
func (c Config) Limits() archive.Limits {
	return archive.Limits{MaxActive: c.Archive.MaxActive, MaxAgeDays: c.Archive.MaxAgeDays}
}

// PollTimeout is the Telegram long-poll wait.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Telegram.PollTimeoutSeconds) * time.Second
}

// SlogLevel maps logging.level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds the process logger: text to stderr unless
// logging.format is json. verbose forces debug level.
func (c Config) NewLogger(verbose bool) *slog.Logger {
	level := c.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Check enforces rules the schema cannot express.
func (c Config) Check() error {
	if c.Store.Backend == BackendGitHub && (c.Store.GitHub.Owner == "" || c.Store.GitHub.Repo == "") {
		return &Error{Field: "store.github", Message: "owner and repo are required for the github backend"}
	}
	if (c.Store.Backend == BackendFile || c.Store.Backend == BackendSQLite) && c.Store.Path == "" {
		return &Error{Field: "store.path", Message: fmt.Sprintf("required for the %s backend", c.Store.Backend)}
	}
	schedules := []struct{ field, spec string }{
		{"schedule.ingest", c.Schedule.Ingest},
		{"schedule.publish", c.Schedule.Publish},
		{"schedule.recover", c.Schedule.Recover},
	}
	for _, s := range schedules {
		if s.spec == "" {
			continue
		}
		if err := scheduler.Validate(s.spec); err != nil {
			return &Error{Field: s.field, Message: err.Error()}
		}
	}
	return nil
}

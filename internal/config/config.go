package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Taipei must resolve on hosts without a zoneinfo db

	"gopkg.in/yaml.v3"

	"coursemail-engine/internal/domain"
)

// Rule is one mail filter entry. Rules are active unless disabled.
type Rule struct {
	Keyword     string `yaml:"keyword"`
	Category    string `yaml:"category"`
	Priority    int    `yaml:"priority"`
	Description string `yaml:"description,omitempty"`
	Disabled    bool   `yaml:"disabled,omitempty"`
}

type Config struct {
	Account struct {
		ID          string `yaml:"id"`
		Username    string `yaml:"username"`
		LoginDomain string `yaml:"login_domain"`
	} `yaml:"account"`

	Mail struct {
		Host                  string `yaml:"host"`
		Port                  int    `yaml:"port"`
		Mailbox               string `yaml:"mailbox"`
		FetchLimit            int    `yaml:"fetch_limit"`
		TimeoutSeconds        int    `yaml:"timeout_seconds"`
		// SessionTimeoutSeconds bounds one whole pass: login, fetch and
		// every mark-read.
		SessionTimeoutSeconds int    `yaml:"session_timeout_seconds"`
		InsecureSkipVerify    bool   `yaml:"insecure_skip_verify"`
	} `yaml:"mail"`

	Watch struct {
		IntervalMinutes int  `yaml:"interval_minutes"`
		AutoProcess     bool `yaml:"auto_process"`
	} `yaml:"watch"`

	Extract struct {
		CourseKeywords []string `yaml:"course_keywords,omitempty"`
		Location       string   `yaml:"location"`
	} `yaml:"extract"`

	// Rules replaces the built-in NCCU table when non-empty.
	Rules []Rule `yaml:"rules,omitempty"`

	App struct {
		DataDir  string `yaml:"data_dir"`
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Defaults() Config {
	var c Config
	c.Account.LoginDomain = "nccu.edu.tw"
	c.Mail.Host = "mail.nccu.edu.tw"
	c.Mail.Port = 993
	c.Mail.Mailbox = "INBOX"
	c.Mail.FetchLimit = 50
	c.Mail.TimeoutSeconds = 30
	c.Mail.SessionTimeoutSeconds = 600
	c.Watch.IntervalMinutes = 5
	c.Watch.AutoProcess = true
	c.Extract.Location = "Asia/Taipei"
	c.App.DataDir = "."
	c.App.HTTPAddr = "127.0.0.1:38472"
	c.Logging.Level = "info"
	return c
}

// Load reads path over Defaults, so keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) WatchConfig() domain.WatchConfig {
	return domain.WatchConfig{
		AccountID:       c.Account.ID,
		IntervalMinutes: c.Watch.IntervalMinutes,
		AutoProcess:     c.Watch.AutoProcess,
	}
}

// Location falls back to time.Local for an unknown zone name.
func (c Config) Location() *time.Location {
	if c.Extract.Location == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Extract.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) MailTimeout() time.Duration {
	if c.Mail.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Mail.TimeoutSeconds) * time.Second
}

func (c Config) SessionTimeout() time.Duration {
	if c.Mail.SessionTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Mail.SessionTimeoutSeconds) * time.Second
}

func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) DBPath() string {
	return filepath.Join(c.App.DataDir, "coursemail.db")
}

func (c Config) LockPath() string {
	return filepath.Join(c.App.DataDir, fmt.Sprintf("watcher-%s.lock", lockName(c.Account.ID)))
}

func lockName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const EnvPrefix = "COURSEMAIL_"

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// DataDirFromEnv is read before the config file exists.
func DataDirFromEnv() string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + "DATA_DIR"))
}

// ApplyEnv overrides cfg with COURSEMAIL_* variables. Only non-empty,
// parseable values win. lookup defaults to os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("ACCOUNT_ID", &c.Account.ID)
	str("USERNAME", &c.Account.Username)
	str("LOGIN_DOMAIN", &c.Account.LoginDomain)

	str("MAIL_HOST", &c.Mail.Host)
	num("MAIL_PORT", &c.Mail.Port)
	str("MAILBOX", &c.Mail.Mailbox)
	num("FETCH_LIMIT", &c.Mail.FetchLimit)
	num("TIMEOUT_SECONDS", &c.Mail.TimeoutSeconds)
	num("SESSION_TIMEOUT_SECONDS", &c.Mail.SessionTimeoutSeconds)
	flag("INSECURE_SKIP_VERIFY", &c.Mail.InsecureSkipVerify)

	num("INTERVAL_MINUTES", &c.Watch.IntervalMinutes)
	flag("AUTO_PROCESS", &c.Watch.AutoProcess)

	str("LOCATION", &c.Extract.Location)

	str("DATA_DIR", &c.App.DataDir)
	str("HTTP_ADDR", &c.App.HTTPAddr)
	str("LOG_LEVEL", &c.Logging.Level)
}

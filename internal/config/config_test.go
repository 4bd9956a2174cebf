package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "account:\n  id: s114\nwatch:\n  interval_minutes: 10\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s114", cfg.Account.ID)
	assert.Equal(t, 10, cfg.Watch.IntervalMinutes)
	assert.True(t, cfg.Watch.AutoProcess)
	assert.Equal(t, "mail.nccu.edu.tw", cfg.Mail.Host)
	assert.Equal(t, 993, cfg.Mail.Port)
	assert.Equal(t, 50, cfg.Mail.FetchLimit)

	wc := cfg.WatchConfig()
	assert.Equal(t, "s114", wc.AccountID)
	assert.Equal(t, 10*time.Minute, wc.Interval())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeFile(t, path, "account: [not, a, map")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadShippedDefaultFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.yml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 6)
	assert.Len(t, cfg.Extract.CourseKeywords, 10)

	cfg.Account.ID = "s114"
	_, v := NormalizeAndValidate(cfg)
	assert.True(t, v.OK(), v.Errors)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"COURSEMAIL_ACCOUNT_ID":       " s114 ",
		"COURSEMAIL_MAIL_PORT":        "1993",
		"COURSEMAIL_AUTO_PROCESS":     "false",
		"COURSEMAIL_INTERVAL_MINUTES": "not-a-number",
		"COURSEMAIL_HTTP_ADDR":        "",

		"COURSEMAIL_SESSION_TIMEOUT_SECONDS": "1200",
	}
	cfg := Defaults()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "s114", cfg.Account.ID)
	assert.Equal(t, 1993, cfg.Mail.Port)
	assert.False(t, cfg.Watch.AutoProcess)
	assert.Equal(t, 5, cfg.Watch.IntervalMinutes, "unparseable values are ignored")
	assert.Equal(t, "127.0.0.1:38472", cfg.App.HTTPAddr, "empty values are ignored")
	assert.Equal(t, 20*time.Minute, cfg.SessionTimeout())
}

func TestNormalizeAndValidate(t *testing.T) {
	cfg := Defaults()
	_, v := NormalizeAndValidate(cfg)
	assert.False(t, v.OK())
	assert.Contains(t, v.Errors, "account.id is required")

	cfg.Account.ID = " s114 "
	cfg.Account.Username = "114921039"
	cfg.Account.LoginDomain = "@nccu.edu.tw"
	cfg.Extract.CourseKeywords = []string{" 資料庫 ", "資料庫", ""}
	cfg.Rules = []Rule{{Keyword: " Moodle: ", Category: "moodle", Priority: 9}}
	out, v := NormalizeAndValidate(cfg)
	require.True(t, v.OK(), v.Errors)
	assert.Equal(t, "s114", out.Account.ID)
	assert.Equal(t, "nccu.edu.tw", out.Account.LoginDomain)
	assert.Equal(t, []string{"資料庫"}, out.Extract.CourseKeywords)
	assert.Equal(t, "Moodle:", out.Rules[0].Keyword)
	assert.Equal(t, " Moodle: ", cfg.Rules[0].Keyword, "input is not modified")

	cfg.Watch.IntervalMinutes = 0
	cfg.Mail.Port = 70000
	cfg.Extract.Location = "Mars/Olympus"
	cfg.Rules = []Rule{{Keyword: " "}}
	_, v = NormalizeAndValidate(cfg)
	assert.Len(t, v.Errors, 4)

	cfg = Defaults()
	cfg.Account.ID = "x"
	cfg.Watch.IntervalMinutes = 1
	cfg.Rules = []Rule{{Keyword: "a", Category: "c", Disabled: true}}
	_, v = NormalizeAndValidate(cfg)
	assert.True(t, v.OK())
	assert.GreaterOrEqual(t, len(v.Warnings), 2)
}

func TestSessionTimeoutValidation(t *testing.T) {
	cfg := Defaults()
	cfg.Account.ID = "s114"

	cfg.Mail.SessionTimeoutSeconds = 0
	_, v := NormalizeAndValidate(cfg)
	assert.Contains(t, v.Errors, "mail.session_timeout_seconds must be > 0")

	cfg.Mail.SessionTimeoutSeconds = 10
	_, v = NormalizeAndValidate(cfg)
	assert.Contains(t, v.Errors, "mail.session_timeout_seconds (10) must be >= mail.timeout_seconds (30)")
}

func TestEnsureUserConfigAndSaveAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	path, err := EnsureUserConfig(dir, filepath.Join(dir, "missing-default.yml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yml"), path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)

	assert.Error(t, SaveAtomic(path, cfg), "account.id missing")

	cfg.Account.ID = "s114"
	require.NoError(t, SaveAtomic(path, cfg))
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err)

	again, err := EnsureUserConfig(dir, "ignored")
	require.NoError(t, err)
	reloaded, err := Load(again)
	require.NoError(t, err)
	assert.Equal(t, "s114", reloaded.Account.ID)
}

func TestEnsureUserConfigCopiesDefault(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "default.yml")
	writeFile(t, def, "account:\n  id: from-default\n")

	path, err := EnsureUserConfig(filepath.Join(dir, "data"), def)
	require.NoError(t, err)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-default", cfg.Account.ID)
}

func TestHelpers(t *testing.T) {
	cfg := Defaults()
	cfg.Account.ID = "a/b c"
	cfg.App.DataDir = "/var/lib/coursemail"
	assert.Equal(t, "/var/lib/coursemail/watcher-a_b_c.lock", cfg.LockPath())
	assert.Equal(t, "/var/lib/coursemail/coursemail.db", cfg.DBPath())
	assert.Equal(t, 30*time.Second, cfg.MailTimeout())
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout())

	cfg.Mail.SessionTimeoutSeconds = 0
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout())

	cfg.Extract.Location = "nowhere"
	assert.Equal(t, time.Local, cfg.Location())
}

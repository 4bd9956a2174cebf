package config

import (
	"fmt"
	"strings"
	"time"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

func (v Validation) Error() string {
	return "config validation failed:\n- " + strings.Join(v.Errors, "\n- ")
}

// NormalizeAndValidate returns a trimmed, de-duplicated copy of cfg plus
// everything wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trimList := func(xs []string) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(x)
			if x == "" || seen[x] {
				continue
			}
			seen[x] = true
			ys = append(ys, x)
		}
		return ys
	}

	out.Account.ID = strings.TrimSpace(out.Account.ID)
	out.Account.Username = strings.TrimSpace(out.Account.Username)
	out.Account.LoginDomain = strings.TrimPrefix(strings.TrimSpace(out.Account.LoginDomain), "@")
	out.Mail.Host = strings.TrimSpace(out.Mail.Host)
	out.Mail.Mailbox = strings.TrimSpace(out.Mail.Mailbox)
	out.Extract.CourseKeywords = trimList(out.Extract.CourseKeywords)
	out.Logging.Level = strings.ToLower(strings.TrimSpace(out.Logging.Level))

	// ---- Validation rules ----

	if out.Account.ID == "" {
		res.addErr("account.id is required")
	}
	if out.Account.Username == "" {
		res.addWarn("account.username is empty; set it before starting the watcher.")
	}

	if out.Mail.Host == "" {
		res.addErr("mail.host is required")
	}
	if out.Mail.Port <= 0 || out.Mail.Port > 65535 {
		res.addErr("mail.port must be 1..65535")
	} else if out.Mail.Port != 993 {
		res.addWarn("mail.port is %d; the client always uses implicit TLS.", out.Mail.Port)
	}
	if out.Mail.Mailbox == "" {
		out.Mail.Mailbox = "INBOX"
	}
	if out.Mail.FetchLimit <= 0 {
		res.addErr("mail.fetch_limit must be > 0")
	} else if out.Mail.FetchLimit > 500 {
		res.addWarn("mail.fetch_limit is very high (%d); one pass may take a long time.", out.Mail.FetchLimit)
	}
	if out.Mail.TimeoutSeconds <= 0 {
		res.addErr("mail.timeout_seconds must be > 0")
	}
	if out.Mail.SessionTimeoutSeconds <= 0 {
		res.addErr("mail.session_timeout_seconds must be > 0")
	} else if out.Mail.SessionTimeoutSeconds < out.Mail.TimeoutSeconds {
		res.addErr("mail.session_timeout_seconds (%d) must be >= mail.timeout_seconds (%d)", out.Mail.SessionTimeoutSeconds, out.Mail.TimeoutSeconds)
	}
	if out.Mail.InsecureSkipVerify {
		res.addWarn("mail.insecure_skip_verify is on; the server certificate is not checked.")
	}

	// polling sanity
	if out.Watch.IntervalMinutes <= 0 {
		res.addErr("watch.interval_minutes must be > 0")
	} else if out.Watch.IntervalMinutes < 2 {
		res.addWarn("watch.interval_minutes is very low (%d) and may get the account throttled.", out.Watch.IntervalMinutes)
	}

	if out.Extract.Location != "" {
		if _, err := time.LoadLocation(out.Extract.Location); err != nil {
			res.addErr("extract.location %q is not a known time zone", out.Extract.Location)
		}
	}

	out.Rules = append([]Rule(nil), cfg.Rules...)
	active := 0
	for i, r := range out.Rules {
		out.Rules[i].Keyword = strings.TrimSpace(r.Keyword)
		if out.Rules[i].Keyword == "" {
			res.addErr("rules[%d].keyword is required", i)
		}
		if strings.TrimSpace(r.Category) == "" {
			res.addWarn("rules[%d] (%q) has no category.", i, r.Keyword)
		}
		if !r.Disabled {
			active++
		}
	}
	if len(out.Rules) > 0 && active == 0 {
		res.addWarn("every rule is disabled; all mail will be skipped.")
	}

	switch out.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		res.addWarn("logging.level %q is unknown; using info.", out.Logging.Level)
	}

	if strings.TrimSpace(out.App.HTTPAddr) == "" {
		res.addWarn("app.http_addr is empty; the HTTP API is disabled.")
	}

	return out, res
}

// Package extract turns free-text Moodle notification subjects and bodies
// into course names and due dates. Every rule is a plain regexp or substring
// check; the first rule that matches wins.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"coursemail-engine/internal/domain"
)

const UntitledSubject = "未命名郵件"

var DefaultCourseKeywords = []string{
	"資料結構",
	"演算法",
	"計算機組織",
	"作業系統",
	"資料庫",
	"人工智慧",
	"機器學習",
	"軟體工程",
	"網路程式設計",
	"雲端運算",
}

var (
	reBracket     = regexp.MustCompile(`\[([^\]]+)\]`)
	reCourseLabel = regexp.MustCompile(`課程[：:]\s*([^\n\r]+)`)

	reDeadline  = regexp.MustCompile(`截止日期[：:]\s*(\d{4})[/\-年](\d{1,2})[/\-月](\d{1,2})日?\s*(\d{1,2}):(\d{2})`)
	reDueISO    = regexp.MustCompile(`(?i)due date[：:]?\s*(\d{4})-(\d{2})-(\d{2})`)
	reWithinDay = regexp.MustCompile(`(\d+)\s*[天日][內内]`)

	reSystemPrefix = regexp.MustCompile(`(?i)^moodle:\s*`)
	reReplyPrefix  = regexp.MustCompile(`(?i)^(re|fwd?|轉寄|回覆)\s*[:：]\s*`)
)

// Engine holds the tunables of the extraction rules. The zero value is not
// usable; call New.
type Engine struct {
	keywords []string
	loc      *time.Location
	now      func() time.Time
}

type Option func(*Engine)

// WithKeywords replaces the known course keyword list.
func WithKeywords(kw []string) Option {
	return func(e *Engine) {
		if len(kw) > 0 {
			e.keywords = append([]string(nil), kw...)
		}
	}
}

// WithLocation sets the zone literal dates are built in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		keywords: DefaultCourseKeywords,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

// Extract runs both rule chains over one message.
func (e *Engine) Extract(subject, body string) domain.ExtractionResult {
	var res domain.ExtractionResult
	if c, ok := e.CourseName(subject, body); ok {
		res.Course = &c
	}
	if d, ok := e.DueDate(body, subject); ok {
		res.Due = &d
	}
	return res
}

// CourseName returns the course a message is about, if any rule finds one.
func (e *Engine) CourseName(subject, body string) (string, bool) {
	if m := reBracket.FindStringSubmatch(subject); m != nil {
		return m[1], true
	}
	if m := reCourseLabel.FindStringSubmatch(body); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name, true
		}
	}
	for _, kw := range e.keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			return kw, true
		}
	}
	return "", false
}

// DueDate returns the deadline stated in a message. ok is false when no rule
// matched; the caller decides the fallback (see DefaultDueDate).
func (e *Engine) DueDate(body, subject string) (time.Time, bool) {
	now := e.Now()

	if m := firstMatch(reDeadline, body, subject); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		h, mi := atoi(m[4]), atoi(m[5])
		return time.Date(y, time.Month(mo), d, h, mi, 0, 0, e.loc), true
	}

	if m := firstMatch(reDueISO, body, subject); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		return time.Date(y, time.Month(mo), d, 23, 59, 0, 0, e.loc), true
	}

	if m := firstMatch(reWithinDay, body, subject); m != nil {
		return now.AddDate(0, 0, atoi(m[1])), true
	}

	switch {
	case strings.Contains(body, "本週") || strings.Contains(body, "本周"):
		return EndOfWeek(now), true
	case strings.Contains(body, "下週") || strings.Contains(body, "下周"):
		return now.AddDate(0, 0, 7), true
	}

	return time.Time{}, false
}

// EndOfWeek is the coming Saturday at 23:59:59, today included.
func EndOfWeek(now time.Time) time.Time {
	days := int(time.Saturday - now.Weekday())
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
}

// DefaultDueDate is seven days out at 23:59:59.
func DefaultDueDate(now time.Time) time.Time {
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, now.Location())
}

// CleanSubject strips the Moodle system prefix and any reply/forward
// prefixes from a subject line.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	s = reSystemPrefix.ReplaceAllString(s, "")
	for {
		next := reReplyPrefix.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return UntitledSubject
	}
	return s
}

func firstMatch(re *regexp.Regexp, texts ...string) []string {
	for _, t := range texts {
		if m := re.FindStringSubmatch(t); m != nil {
			return m
		}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

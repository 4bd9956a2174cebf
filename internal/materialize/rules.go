package materialize

import (
	"sort"
	"strings"

	"coursemail-engine/internal/domain"
)

// Rule is one entry of the mail filter. A message is accepted when an
// active rule's keyword occurs in its sender or subject.
type Rule struct {
	Keyword     string `yaml:"keyword" json:"keyword"`
	Category    string `yaml:"category" json:"category"`
	Priority    int    `yaml:"priority" json:"priority"`
	Description string `yaml:"description" json:"description"`
	Active      bool   `yaml:"active" json:"active"`
}

// Rules is an ordered rule table. Build it with NewRules.
type Rules struct {
	list []Rule
}

// NewRules drops inactive and empty rules and orders the rest by
// descending priority. Equal priorities keep their input order.
func NewRules(in []Rule) Rules {
	out := make([]Rule, 0, len(in))
	for _, r := range in {
		r.Keyword = strings.TrimSpace(r.Keyword)
		if !r.Active || r.Keyword == "" {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return Rules{list: out}
}

// DefaultRules is the NCCU Moodle table.
func DefaultRules() []Rule {
	return []Rule{
		{Keyword: "moodle.nccu.edu.tw", Category: "moodle", Priority: 10, Description: "政大 Moodle 通知", Active: true},
		{Keyword: "Moodle:", Category: "moodle", Priority: 9, Description: "Moodle 系統郵件", Active: true},
		{Keyword: "作業繳交", Category: "assignment", Priority: 8, Description: "作業繳交通知", Active: true},
		{Keyword: "截止日期", Category: "deadline", Priority: 8, Description: "截止日期提醒", Active: true},
		{Keyword: "課程公告", Category: "announcement", Priority: 7, Description: "課程公告", Active: true},
		{Keyword: "測驗通知", Category: "exam", Priority: 8, Description: "測驗通知", Active: true},
	}
}

func (r Rules) Len() int { return len(r.list) }

func (r Rules) List() []Rule {
	return append([]Rule(nil), r.list...)
}

// Match returns the highest-priority rule whose keyword is contained,
// case-insensitively, in the sender or subject.
func (r Rules) Match(msg domain.RawMessage) (Rule, bool) {
	from := strings.ToLower(msg.From)
	subj := strings.ToLower(msg.Subject)
	for _, rule := range r.list {
		kw := strings.ToLower(rule.Keyword)
		if strings.Contains(from, kw) || strings.Contains(subj, kw) {
			return rule, true
		}
	}
	return Rule{}, false
}

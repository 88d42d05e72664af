// Package directive extracts structured actions embedded in final model text.
//
// Two tags are recognized, both tolerant of newlines inside the quoted payload:
//
//	ACTION:[social_post,"payload"]
//	HANDOFF:[writer,"prompt for the writer"]
//
// Matched tags are removed from the display text. Each one yields an
// Affordance, except hand-offs whose target agent does not resolve, which are
// consumed silently.
package directive

import (
	"regexp"
	"sort"
	"strings"
)

type Kind string

const (
	KindAction  Kind = "action"
	KindHandoff Kind = "handoff"
)

// Service is an external destination an action directive can target.
type Service struct {
	ID    string
	Name  string
	Label string
}

var services = []Service{
	{ID: "social_post", Name: "Social Media", Label: "Post to Social Media"},
	{ID: "email", Name: "Email", Label: "Send Email"},
	{ID: "cloud_drive", Name: "Cloud Drive", Label: "Save to Cloud Drive"},
	{ID: "team_chat", Name: "Team Chat", Label: "Share in Team Chat"},
}

func LookupService(id string) (Service, bool) {
	for _, s := range services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Affordance is an actionable element rendered in place of a directive.
type Affordance struct {
	Kind  Kind
	Label string

	// Set for KindAction.
	Service Service
	Payload string

	// Set for KindHandoff.
	AgentID string
	Prompt  string
}

// Result is the display text with directives stripped plus the affordances in
// source order.
type Result struct {
	Text        string
	Affordances []Affordance
}

// AgentResolver maps an agent id to its display name.
type AgentResolver interface {
	Name(id string) (string, bool)
}

type Parser struct {
	agents AgentResolver
	rules  []rule
}

type rule struct {
	pattern *regexp.Regexp
	extract func(groups []string) (Affordance, bool)
}

type match struct {
	start, end int
	affordance Affordance
	ok         bool
}

func New(agents AgentResolver) *Parser {
	ids := make([]string, len(services))
	for i, s := range services {
		ids[i] = regexp.QuoteMeta(s.ID)
	}

	p := &Parser{agents: agents}
	p.rules = []rule{
		{
			pattern: regexp.MustCompile(`ACTION:\[\s*(` + strings.Join(ids, "|") + `)\s*,\s*"((?s:.*?))"\s*\]`),
			extract: func(groups []string) (Affordance, bool) {
				svc, _ := LookupService(groups[1])
				return Affordance{
					Kind:    KindAction,
					Label:   svc.Label,
					Service: svc,
					Payload: groups[2],
				}, true
			},
		},
		{
			pattern: regexp.MustCompile(`HANDOFF:\[\s*([A-Za-z0-9_-]+)\s*,\s*"((?s:.*?))"\s*\]`),
			extract: func(groups []string) (Affordance, bool) {
				if p.agents == nil {
					return Affordance{}, false
				}
				name, ok := p.agents.Name(groups[1])
				if !ok {
					return Affordance{}, false
				}
				return Affordance{
					Kind:    KindHandoff,
					Label:   "Ask " + name,
					AgentID: groups[1],
					Prompt:  strings.TrimSpace(groups[2]),
				}, true
			},
		},
	}
	return p
}

// Parse strips every directive from text. Text without directives is returned unchanged.
func (p *Parser) Parse(text string) Result {
	var matches []match
	for _, r := range p.rules {
		for _, idx := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
			groups := make([]string, len(idx)/2)
			for g := range groups {
				if idx[2*g] >= 0 {
					groups[g] = text[idx[2*g]:idx[2*g+1]]
				}
			}
			a, ok := r.extract(groups)
			matches = append(matches, match{start: idx[0], end: idx[1], affordance: a, ok: ok})
		}
	}
	if len(matches) == 0 {
		return Result{Text: text}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var (
		b           strings.Builder
		affordances []Affordance
		cursor      int
	)
	for _, m := range matches {
		if m.start < cursor {
			// Overlaps an earlier directive.
			continue
		}
		b.WriteString(text[cursor:m.start])
		joinAfterCut(&b, text[m.end:], &cursor, m.end)
		if m.ok {
			affordances = append(affordances, m.affordance)
		}
	}
	b.WriteString(text[cursor:])

	return Result{
		Text:        tidy(b.String()),
		Affordances: affordances,
	}
}

// joinAfterCut trims the whitespace around a removed span so that
// "a HANDOFF:[...] b" becomes "a b".
func joinAfterCut(b *strings.Builder, rest string, cursor *int, end int) {
	left := strings.TrimRight(b.String(), " \t")
	trimmedRest := strings.TrimLeft(rest, " \t")
	b.Reset()
	b.WriteString(left)
	lineStart := left == "" || strings.HasSuffix(left, "\n")
	switch {
	case lineStart && strings.HasPrefix(trimmedRest, "\n"):
		// The directive filled its own line; drop the line break too.
		trimmedRest = trimmedRest[1:]
	case !lineStart && trimmedRest != "" && !strings.HasPrefix(trimmedRest, "\n"):
		b.WriteByte(' ')
	}
	*cursor = end + len(rest) - len(trimmedRest)
}

var blankRun = regexp.MustCompile(`\n{3,}`)

func tidy(s string) string {
	return strings.TrimSpace(blankRun.ReplaceAllString(s, "\n\n"))
}

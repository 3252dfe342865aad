// Package analyzer turns free text into a ContentAnalysis, either with
// keyword heuristics or by asking a language model.
package analyzer

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/starford/lifeagent/internal/models"
	"github.com/starford/lifeagent/internal/textnorm"
	"github.com/starford/lifeagent/internal/timeparse"
)

// Intents produced by the heuristic analyzer.
const (
	IntentReminder      = "reminder"
	IntentCreateTask    = "create_task"
	IntentScheduleEvent = "schedule_event"
	IntentUpdateProject = "update_project"
	IntentAddHeading    = "add_heading"
	IntentAddComparison = "add_comparison"
	IntentAddWarning    = "add_warning"
	IntentAddNote       = "add_note"
)

var (
	fillerRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:remind\s+me\s+to|remind\s+me\s+about|remind\s+me|don'?t\s+forget\s+to|remember\s+to|i\s+need\s+to|i\s+have\s+to|i\s+should|i\s+must|todo:|task:|note:|heading:|title:|section:|warning:|alert:)\s*`)
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_-]+)`)
	wordRe    = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'-]*`)
)

var taskVerbs = map[string]bool{
	"buy": true, "call": true, "finish": true, "send": true, "pay": true, "fix": true,
	"write": true, "clean": true, "book": true, "submit": true, "prepare": true,
	"email": true, "pick": true, "order": true, "renew": true, "schedule": true,
}

var eventWords = []string{"meeting", "appointment", "call with", "dinner with", "lunch with", "interview", "standup", "sync"}

var categoryWords = []struct {
	category string
	words    []string
}{
	{"work", []string{"meeting", "report", "client", "deadline", "office", "presentation", "standup", "sync", "colleague", "manager"}},
	{"shopping", []string{"buy", "groceries", "grocery", "milk", "store", "shop", "order"}},
	{"fitness", []string{"gym", "workout", "run", "exercise", "yoga", "stretch", "swim"}},
	{"health", []string{"doctor", "dentist", "medicine", "pharmacy", "appointment"}},
	{"finance", []string{"pay", "bill", "rent", "tax", "taxes", "budget", "invoice", "bank"}},
	{"learning", []string{"learn", "study", "course", "lesson", "lessons", "tutorial", "read"}},
	{"personal", []string{"mom", "dad", "family", "friend", "birthday", "home", "kids"}},
	{"project", []string{"project", "milestone", "launch", "roadmap", "release"}},
}

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "because": true,
	"before": true, "could": true, "from": true, "have": true, "into": true,
	"just": true, "like": true, "make": true, "more": true, "need": true,
	"please": true, "remind": true, "should": true, "some": true, "that": true,
	"their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "want": true, "what": true,
	"when": true, "where": true, "which": true, "will": true, "with": true,
	"would": true, "your": true, "tomorrow": true, "today": true, "tonight": true,
}

// Heuristic analyzes text with keyword rules and the time parser.
type Heuristic struct {
	now func() time.Time
}

// NewHeuristic returns a heuristic analyzer. A nil clock uses time.Now.
func NewHeuristic(now func() time.Time) *Heuristic {
	if now == nil {
		now = time.Now
	}
	return &Heuristic{now: now}
}

// Analyze implements the analyzer contract. It never fails.
func (h *Heuristic) Analyze(_ context.Context, text string) (*models.ContentAnalysis, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	a := &models.ContentAnalysis{
		Priority: priorityOf(lower),
		Entities: entities(text),
	}

	body := text
	if r, ok := timeparse.Parse(text, h.now()); ok {
		at := r.At
		info := &models.TimeInfo{Expression: r.Expression, IsAllDay: r.IsAllDay}
		if r.Due {
			info.DueDate = &at
		} else {
			info.ScheduledAt = &at
		}
		a.TimeInfo = info
		body = timeparse.Remove(text, r)
	}

	a.Intent = intentOf(lower, a.TimeInfo != nil)
	a.ExtractedContent = cleanContent(body)
	if a.ExtractedContent == "" {
		a.ExtractedContent = text
	}
	a.Category = categoryOf(strings.ToLower(a.ExtractedContent))
	a.Keywords = keywords(text, a.ExtractedContent)
	return a, nil
}

func intentOf(lower string, timed bool) string {
	switch {
	case strings.HasPrefix(lower, "heading:"), strings.HasPrefix(lower, "title:"), strings.HasPrefix(lower, "section:"):
		return IntentAddHeading
	case strings.HasPrefix(lower, "warning"), strings.HasPrefix(lower, "alert"), strings.HasPrefix(lower, "caution"):
		return IntentAddWarning
	case strings.Contains(lower, "remind me"), strings.Contains(lower, "don't forget"), strings.Contains(lower, "dont forget"):
		return IntentReminder
	case strings.HasPrefix(lower, "todo"), strings.HasPrefix(lower, "task:"):
		return IntentCreateTask
	case strings.Contains(lower, " vs ") || strings.Contains(lower, " versus ") || strings.HasPrefix(lower, "compare"):
		return IntentAddComparison
	}
	if timed {
		for _, w := range eventWords {
			if strings.Contains(lower, w) {
				return IntentScheduleEvent
			}
		}
	}
	first := strings.ToLower(firstWord(fillerRe.ReplaceAllString(lower, "")))
	switch {
	case taskVerbs[first]:
		return IntentCreateTask
	case strings.Contains(lower, "i need to"), strings.Contains(lower, "i have to"), strings.Contains(lower, "i must"):
		return IntentCreateTask
	case strings.Contains(lower, "project"):
		return IntentUpdateProject
	case timed:
		return IntentCreateTask
	}
	return IntentAddNote
}

func priorityOf(lower string) models.Priority {
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "asap"), strings.Contains(lower, "critical"),
		strings.Contains(lower, "important"), strings.Contains(lower, "high priority"):
		return models.PriorityHigh
	case strings.Contains(lower, "low priority"), strings.Contains(lower, "someday"), strings.Contains(lower, "no rush"):
		return models.PriorityLow
	case strings.Contains(lower, "medium priority"):
		return models.PriorityMedium
	}
	return ""
}

func categoryOf(lower string) string {
	words := textnorm.TermSet(lower)
	best, bestHits := models.DefaultCategory, 0
	for _, c := range categoryWords {
		hits := 0
		for _, w := range c.words {
			if strings.Contains(w, " ") {
				if strings.Contains(lower, w) {
					hits++
				}
			} else if _, ok := words[w]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c.category, hits
		}
	}
	return best
}

func cleanContent(s string) string {
	s = fillerRe.ReplaceAllString(s, "")
	s = hashtagRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, " .,;:!")
	return strings.TrimLeft(s, " ,;:")
}

func keywords(original, content string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		w = strings.ToLower(w)
		if w == "" || seen[w] {
			return
		}
		seen[w] = true
		out = append(out, w)
	}
	for _, t := range textnorm.Terms(content) {
		if utf8.RuneCountInString(t) > 3 && !stopWords[t] {
			add(t)
		}
	}
	for _, m := range hashtagRe.FindAllStringSubmatch(original, -1) {
		add(m[1])
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// entities returns capitalised words that do not start a sentence.
func entities(text string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, loc := range wordRe.FindAllStringIndex(text, -1) {
		w := text[loc[0]:loc[1]]
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(r) || w == "I" || sentenceStart(text, loc[0]) {
			continue
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func sentenceStart(text string, i int) bool {
	prev := strings.TrimRightFunc(text[:i], unicode.IsSpace)
	if prev == "" {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(prev)
	return last == '.' || last == '!' || last == '?' || last == ':'
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return strings.Trim(f[0], ".,;:!?")
	}
	return ""
}

// BlockTypeForIntent picks the block type a statement with intent should
// become when nothing existing absorbs it.
func BlockTypeForIntent(intent string) models.BlockType {
	intent = strings.ToLower(intent)
	switch {
	case containsAny(intent, "task", "todo", "reminder", "schedule"):
		return models.TypeTodo
	case containsAny(intent, "heading", "title", "section"):
		return models.TypeHeading
	case containsAny(intent, "table", "data", "comparison"):
		return models.TypeTable
	case containsAny(intent, "warning", "alert", "important"):
		return models.TypeCallout
	}
	return models.TypeText
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Package timeparse resolves natural-language time phrases such as
// "tomorrow at 5pm" or "in 2 hours" against a reference time.
package timeparse

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/starford/lifeagent/internal/apperr"
)

// Span is a byte range of the parsed text.
type Span struct {
	Start int
	End   int
}

// Result is a resolved time phrase.
type Result struct {
	Expression string
	Spans      []Span
	At         time.Time
	IsAllDay   bool
	// Due is set when the phrase was introduced by "by", "due", "before" or "until".
	Due bool
}

var (
	relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|twelve|fifteen|twenty|thirty)\s+(minute|min|hour|hr|day|week)s?\b`)
	isoRe      = regexp.MustCompile(`(?i)\b(\d{4})-(\d{2})-(\d{2})(?:[t ](\d{2}):(\d{2}))?\b`)
	dayRe      = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|next\s+week|next\s+month)\b`)
	weekdayRe  = regexp.MustCompile(`(?i)\b(?:(?:next|this|on)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	partRe     = regexp.MustCompile(`(?i)\b(?:(this)\s+)?(morning|afternoon|evening|night)\b`)
	meridiemRe = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*([ap])m\b`)
	oclockRe   = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?(?:\s*o['’]?clock)?\b`)
	colonRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	dueRe      = regexp.MustCompile(`(?i)\b(by|due(?:\s+on|\s+by)?|before|until)\s+$`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

var quantities = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30,
}

var partHours = map[string]int{"morning": 9, "afternoon": 14, "evening": 19, "night": 20}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

type parser struct {
	text  string
	now   time.Time
	spans []Span
}

func (p *parser) use(start, end int) {
	p.spans = append(p.spans, Span{Start: start, End: end})
}

func (p *parser) overlaps(start, end int) bool {
	for _, s := range p.spans {
		if start < s.End && s.Start < end {
			return true
		}
	}
	return false
}

// first returns the submatch indexes of the earliest match of re that does
// not overlap a span already used.
func (p *parser) first(re *regexp.Regexp) []int {
	for _, m := range re.FindAllStringSubmatchIndex(p.text, -1) {
		if !p.overlaps(m[0], m[1]) {
			return m
		}
	}
	return nil
}

func (p *parser) group(m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return strings.ToLower(p.text[m[2*i]:m[2*i+1]])
}

// Parse finds the first time phrase in text. The boolean is false when text
// contains none.
func Parse(text string, now time.Time) (Result, bool) {
	p := &parser{text: text, now: now}

	if m := p.first(relativeRe); m != nil {
		n, ok := quantities[p.group(m, 1)]
		if !ok {
			n, _ = strconv.Atoi(p.group(m, 1))
		}
		var at time.Time
		switch p.group(m, 2) {
		case "minute", "min":
			at = now.Add(time.Duration(n) * time.Minute)
		case "hour", "hr":
			at = now.Add(time.Duration(n) * time.Hour)
		case "day":
			at = now.AddDate(0, 0, n)
		case "week":
			at = now.AddDate(0, 0, 7*n)
		}
		p.use(m[0], m[1])
		return p.result(at), true
	}

	loc := now.Location()
	y, mo, d := now.Date()
	today := time.Date(y, mo, d, 0, 0, 0, 0, loc)

	var (
		date             time.Time
		hasDate, hasTime bool
		hour, minute     int
	)

	if m := p.first(isoRe); m != nil {
		iy, _ := strconv.Atoi(p.group(m, 1))
		im, _ := strconv.Atoi(p.group(m, 2))
		id, _ := strconv.Atoi(p.group(m, 3))
		cand := time.Date(iy, time.Month(im), id, 0, 0, 0, 0, loc)
		if cand.Year() == iy && int(cand.Month()) == im && cand.Day() == id {
			date, hasDate = cand, true
			if h := p.group(m, 4); h != "" {
				hh, _ := strconv.Atoi(h)
				mm, _ := strconv.Atoi(p.group(m, 5))
				if hh < 24 && mm < 60 {
					hour, minute, hasTime = hh, mm, true
				}
			}
			p.use(m[0], m[1])
		}
	}
	if !hasDate {
		if m := p.first(dayRe); m != nil {
			switch word := spaceRe.ReplaceAllString(p.group(m, 1), " "); word {
			case "today":
				date = today
			case "tonight":
				date, hour, hasTime = today, partHours["night"], true
			case "tomorrow":
				date = today.AddDate(0, 0, 1)
			case "next week":
				date = today.AddDate(0, 0, 7)
			case "next month":
				date = today.AddDate(0, 1, 0)
			}
			hasDate = true
			p.use(m[0], m[1])
		}
	}
	if !hasDate {
		if m := p.first(weekdayRe); m != nil {
			want := weekdays[p.group(m, 1)]
			ahead := (int(want) - int(today.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			date, hasDate = today.AddDate(0, 0, ahead), true
			p.use(m[0], m[1])
		}
	}

	// A bare part of day only counts next to a date ("tomorrow morning");
	// "this morning" carries its own date.
	if m := p.first(partRe); m != nil && (hasDate || p.group(m, 1) != "") {
		if !hasDate {
			date, hasDate = today, true
		}
		hour, minute, hasTime = partHours[p.group(m, 2)], 0, true
		p.use(m[0], m[1])
	}

	if h, mm, m, ok := p.clock(); ok {
		hour, minute, hasTime = h, mm, true
		p.use(m[0], m[1])
		if !hasDate {
			date, hasDate = today, true
			if time.Date(y, mo, d, hour, minute, 0, 0, loc).Before(now) {
				date = today.AddDate(0, 0, 1)
			}
		}
	}

	_ = hasTime // tracked but not currently consulted
	if !hasDate {
		return Result{}, false
	}
	dy, dm, dd := date.Date()
	return p.result(time.Date(dy, dm, dd, hour, minute, 0, 0, loc)), true
}

// clock finds an explicit time of day.
func (p *parser) clock() (hour, minute int, m []int, ok bool) {
	if m = p.first(meridiemRe); m != nil {
		h, _ := strconv.Atoi(p.group(m, 1))
		mm, _ := strconv.Atoi(p.group(m, 2))
		if h >= 1 && h <= 12 && mm < 60 {
			if h == 12 {
				h = 0
			}
			if p.group(m, 3) == "p" {
				h += 12
			}
			return h, mm, m, true
		}
	}
	for _, re := range []*regexp.Regexp{oclockRe, colonRe} {
		if m = p.first(re); m != nil {
			h, _ := strconv.Atoi(p.group(m, 1))
			mm, _ := strconv.Atoi(p.group(m, 2))
			if h < 24 && mm < 60 {
				return h, mm, m, true
			}
		}
	}
	return 0, 0, nil, false
}

func (p *parser) result(at time.Time) Result {
	slices.SortFunc(p.spans, func(a, b Span) int { return a.Start - b.Start })
	r := Result{At: at, IsAllDay: at.Hour() == 0 && at.Minute() == 0 && at.Second() == 0}
	if m := dueRe.FindStringIndex(p.text[:p.spans[0].Start]); m != nil {
		r.Due = true
		p.spans[0].Start = m[0]
	}
	parts := make([]string, len(p.spans))
	for i, s := range p.spans {
		parts[i] = strings.TrimSpace(p.text[s.Start:s.End])
	}
	r.Expression = strings.Join(parts, " ")
	r.Spans = p.spans
	return r
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseExpression resolves a standalone expression, accepting absolute
// timestamps as well as natural phrases.
func ParseExpression(expr string, now time.Time) (Result, error) {
	trimmed := strings.TrimSpace(expr)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, trimmed, now.Location()); err == nil {
			return Result{
				Expression: trimmed,
				Spans:      []Span{{Start: 0, End: len(expr)}},
				At:         t,
				IsAllDay:   t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0,
			}, nil
		}
	}
	if r, ok := Parse(expr, now); ok {
		return r, nil
	}
	return Result{}, apperr.Validationf("unable to parse time expression %q", expr)
}

// Remove deletes the spans of r from text and collapses whitespace.
func Remove(text string, r Result) string {
	var b strings.Builder
	last := 0
	for _, s := range r.Spans {
		if s.Start < last {
			continue
		}
		b.WriteString(text[last:s.Start])
		b.WriteByte(' ')
		last = s.End
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(spaceRe.ReplaceAllString(b.String(), " "))
}

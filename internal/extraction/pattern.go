package extraction

import (
	"context"
	"regexp"
	"strings"
)

// DefaultPatternTask titles candidates whose surrounding sentence is unusable.
const DefaultPatternTask = "Extracted from email"

// maxTaskLen bounds a task taken from the surrounding sentence.
const maxTaskLen = 120

// datePatterns are tried in order; each must expose the whole date as
// its match.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{1,2}-\d{1,2}-\d{4}\b`),
	regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
}

// timeNear matches a clock time shortly after a date ("at 11:59 PM").
var timeNear = regexp.MustCompile(`(?i)^\W{0,3}(?:at|by|before|@)?\s*(\d{1,2}:\d{2}\s*(?:[ap]\.?m\.?)?|\d{1,2}\s*[ap]\.?m\.?)`)

var sentenceBreak = regexp.MustCompile(`[.!?\n]`)

// PatternInterpreter finds dates with fixed regular expressions. It never
// fails and needs no configuration.
type PatternInterpreter struct {
	defaultTask string
}

// NewPatternInterpreter returns a PatternInterpreter. An empty defaultTask
// selects DefaultPatternTask.
func NewPatternInterpreter(defaultTask string) *PatternInterpreter {
	if defaultTask == "" {
		defaultTask = DefaultPatternTask
	}
	return &PatternInterpreter{defaultTask: defaultTask}
}

func (p *PatternInterpreter) Name() string { return NamePattern }

func (p *PatternInterpreter) Extract(_ context.Context, text string) ([]Candidate, error) {
	out := []Candidate{}
	seen := make(map[string]struct{})

	for _, re := range datePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			date := normalizeSpace(text[loc[0]:loc[1]])

			var clock *string
			tail := loc[1]
			if m := timeNear.FindStringSubmatchIndex(text[loc[1]:]); m != nil {
				t := normalizeSpace(text[loc[1]+m[2] : loc[1]+m[3]])
				clock = &t
				tail = loc[1] + m[1]
			}

			key := date
			if clock != nil {
				key += "|" + *clock
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			out = append(out, Candidate{
				Task: p.task(text, loc[0], tail),
				Date: date,
				Time: clock,
			})
		}
	}
	return out, nil
}

func (p *PatternInterpreter) Available(context.Context) Availability {
	return Availability{Name: NamePattern, Available: true, Provider: "regex"}
}

// task returns the sentence around [start,end) with the date and time
// removed, or the default task when nothing meaningful is left.
func (p *PatternInterpreter) task(text string, start, end int) string {
	from := 0
	if locs := sentenceBreak.FindAllStringIndex(text[:start], -1); len(locs) > 0 {
		from = locs[len(locs)-1][1]
	}
	to := len(text)
	if loc := sentenceBreak.FindStringIndex(text[end:]); loc != nil {
		to = end + loc[0]
	}

	sentence := normalizeSpace(text[from:start] + text[end:to])
	sentence = strings.Trim(sentence, " ,:;-")
	if len(strings.Fields(sentence)) < 2 {
		return p.defaultTask
	}
	if r := []rune(sentence); len(r) > maxTaskLen {
		sentence = strings.TrimSpace(string(r[:maxTaskLen]))
	}
	return sentence
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ Interpreter = (*PatternInterpreter)(nil)

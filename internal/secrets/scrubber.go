package secrets

import (
	"sort"
	"strings"
)

// Scrubber detects and redacts secrets.
type Scrubber interface {
	// Scrub redacts secrets from content.
	Scrub(content string) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	IsEnabled() bool
}

// Result contains the scrubbing result. It never holds the matched values.
type Result struct {
	Scrubbed      string         `json:"scrubbed"`
	Findings      []Finding      `json:"findings,omitempty"`
	TotalFindings int            `json:"total_findings"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}

// Finding locates one detected secret in the original content.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	Line        int    `json:"line"`
}

// HasFindings reports whether any secret was found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the matched rule IDs, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New creates a Scrubber. A nil cfg means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

// MustNew is New for package-level defaults; it panics on a bad config.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) Scrub(content string) *Result {
	result, spans := s.detect(content)
	if len(spans) == 0 {
		return result
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := mergeSpans(spans)

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, sp := range merged {
		b.WriteString(content[last:sp.start])
		b.WriteString(s.config.RedactionString)
		last = sp.end
	}
	b.WriteString(content[last:])
	result.Scrubbed = b.String()
	return result
}

func (s *scrubber) Check(content string) *Result {
	result, _ := s.detect(content)
	return result
}

func (s *scrubber) detect(content string) (*Result, []span) {
	result := &Result{
		Scrubbed: content,
		ByRule:   make(map[string]int),
	}
	if !s.config.Enabled {
		return result, nil
	}

	var spans []span
	for _, rule := range s.config.compiledRules {
		if !rule.keywordPresent(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(content, -1) {
			start, end := m[0], m[1]
			if rule.group > 0 && m[2*rule.group] >= 0 {
				start, end = m[2*rule.group], m[2*rule.group+1]
			}
			if start >= end || s.isAllowed(content[start:end]) {
				continue
			}

			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				StartIndex:  start,
				EndIndex:    end,
				Line:        strings.Count(content[:start], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			spans = append(spans, span{start: start, end: end})
		}
	}
	result.TotalFindings = len(result.Findings)
	return result, spans
}

func (r *compiledRule) keywordPresent(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans merges overlapping or adjacent spans; input is sorted by start.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

var _ Scrubber = (*scrubber)(nil)

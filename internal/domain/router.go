// Package domain picks a specialist generation model for a piece of text by
// scoring it against a closed, ordered set of topic domains.
package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/normanking/cortexvoice/internal/config"
)

// ID names a topic domain.
type ID string

// General is returned when no domain clears the threshold.
const General ID = "general"

const (
	// PatternWeight is added per regex match.
	PatternWeight = 0.3
	// KeywordWeight is added per contained keyword.
	KeywordWeight = 0.15
	// DefaultThreshold is the minimum score for a specialist.
	DefaultThreshold = 0.4
)

// Path records how a Score was produced.
type Path string

const (
	PathScored Path = "scored"
	PathTagged Path = "tagged"
)

// Score is the routing decision for one text.
type Score struct {
	Domain     ID      `json:"domain"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
	Voice      string  `json:"voice,omitempty"`
	Handoff    string  `json:"handoff,omitempty"`
	Path       Path    `json:"path"`
}

// IsGeneral reports whether no specialist was selected.
func (s Score) IsGeneral() bool {
	return s.Domain == General
}

// Domain is one compiled entry of the routing table.
type Domain struct {
	ID       ID
	Enabled  bool
	Model    string
	Voice    string
	Handoff  string
	patterns []*regexp.Regexp
	keywords []string
}

// Router scores text against domains in declaration order.
type Router struct {
	domains   []*Domain
	byID      map[ID]*Domain
	threshold float64
}

// Option configures a Router.
type Option func(*Router)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(threshold float64) Option {
	return func(r *Router) {
		r.threshold = threshold
	}
}

// NewRouter compiles the domain table. Patterns match case-insensitively.
func NewRouter(domains []config.DomainConfig, opts ...Option) (*Router, error) {
	r := &Router{
		byID:      make(map[ID]*Domain, len(domains)),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, dc := range domains {
		id := ID(strings.ToLower(dc.ID))
		if id == "" || id == General {
			return nil, fmt.Errorf("invalid domain id %q", dc.ID)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate domain id %q", dc.ID)
		}

		d := &Domain{
			ID:      id,
			Enabled: dc.Enabled,
			Model:   dc.Model,
			Voice:   dc.Voice,
			Handoff: dc.Handoff,
		}
		for _, p := range dc.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("domain %s: compile pattern %q: %w", id, p, err)
			}
			d.patterns = append(d.patterns, re)
		}
		for _, kw := range dc.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				d.keywords = append(d.keywords, kw)
			}
		}

		r.domains = append(r.domains, d)
		r.byID[id] = d
	}
	return r, nil
}

// Threshold returns the configured minimum score.
func (r *Router) Threshold() float64 {
	return r.threshold
}

// Lookup returns the domain with the given id.
func (r *Router) Lookup(id ID) (*Domain, bool) {
	d, ok := r.byID[ID(strings.ToLower(string(id)))]
	return d, ok
}

// Raw returns the capped score of one domain for text.
func (d *Domain) Raw(text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, re := range d.patterns {
		score += PatternWeight * float64(len(re.FindAllStringIndex(lower, -1)))
	}
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			score += KeywordWeight
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Score selects the best enabled domain for text. A strictly higher score
// is needed to displace an earlier domain, so ties go to the first declared.
// Below the threshold the result is General with confidence 1-best.
func (r *Router) Score(text string) Score {
	var best *Domain
	var bestScore float64
	for _, d := range r.domains {
		if !d.Enabled {
			continue
		}
		s := d.Raw(text)
		if best == nil || s > bestScore {
			best = d
			bestScore = s
		}
	}

	if best == nil || bestScore < r.threshold {
		return Score{Domain: General, Confidence: 1 - bestScore, Path: PathScored}
	}
	return Score{
		Domain:     best.ID,
		Confidence: bestScore,
		Model:      best.Model,
		Voice:      best.Voice,
		Handoff:    best.Handoff,
		Path:       PathScored,
	}
}

// Breakdown returns every enabled domain's raw score in declaration order.
func (r *Router) Breakdown(text string) []Score {
	out := make([]Score, 0, len(r.domains))
	for _, d := range r.domains {
		if d.Enabled {
			out = append(out, Score{Domain: d.ID, Confidence: d.Raw(text), Model: d.Model, Path: PathScored})
		}
	}
	return out
}

// routeTagPattern matches inline hand-off markers such as "[route: medical]".
var routeTagPattern = regexp.MustCompile(`(?i)\[\s*(?:route|handoff)\s*:\s*([a-z0-9_-]+)\s*\]`)

// FromTags scans assistant text for a routing tag naming an enabled domain
// and returns that domain's specialist without scoring. The first usable
// tag wins.
func (r *Router) FromTags(text string) (Score, bool) {
	for _, m := range routeTagPattern.FindAllStringSubmatch(text, -1) {
		d, ok := r.Lookup(ID(m[1]))
		if !ok || !d.Enabled {
			continue
		}
		return Score{
			Domain:     d.ID,
			Confidence: 1.0,
			Model:      d.Model,
			Voice:      d.Voice,
			Handoff:    d.Handoff,
			Path:       PathTagged,
		}, true
	}
	return Score{}, false
}

// StripTags removes routing tags from text.
func StripTags(text string) string {
	return routeTagPattern.ReplaceAllString(text, "")
}

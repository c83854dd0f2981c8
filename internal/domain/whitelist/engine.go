// Package whitelist matches known-legitimate patterns against an email and
// subtracts bounded risk (§4.5).
package whitelist

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/domain/features"
)

// compiledCache memoizes regex compilation across evaluations of the same
// artifact snapshot; the cache key is the pattern string. Entries are never
// evicted because Whitelist snapshots are small and immutable once loaded
// (§3.3 ownership model) — a new snapshot gets a fresh cache via NewMatcher.
type compiledCache struct {
	mu    sync.Mutex
	regex map[string]*regexp.Regexp
}

func newCompiledCache() *compiledCache {
	return &compiledCache{regex: map[string]*regexp.Regexp{}}
}

func (c *compiledCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.regex[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.regex[pattern] = re
	return re, nil
}

// Matcher evaluates a Whitelist artifact snapshot. One Matcher should be
// built per artifact swap and reused across requests.
type Matcher struct {
	list  domain.Whitelist
	cache *compiledCache
}

// NewMatcher does not compile regex entries eagerly, which would be wasted
// work for entries never hit; compilation happens lazily and is cached per
// pattern.
func NewMatcher(list domain.Whitelist) *Matcher {
	return &Matcher{list: list, cache: newCompiledCache()}
}

// Match is a single triggering whitelist entry.
type Match struct {
	Type       domain.WhitelistEntryType
	Pattern    string
	Confidence float64
}

// Evaluate returns riskReduction = min(max(matched confidences),
// globalSettings.maxReduction), and the matches that contributed, evaluated
// against now (expired entries are ignored).
func (m *Matcher) Evaluate(email, localPart, dom string, now time.Time) (float64, []Match) {
	var matches []Match
	maxConf := 0.0
	pf := features.ClassifyPatternFamily(localPart)

	for _, entry := range m.list.Entries {
		if !entry.Enabled || entry.Expired(now) {
			continue
		}
		if m.matches(entry, email, localPart, dom, string(pf)) {
			matches = append(matches, Match{Type: entry.Type, Pattern: entry.Pattern, Confidence: entry.Confidence})
			if entry.Confidence > maxConf {
				maxConf = entry.Confidence
			}
		}
	}

	cap := m.list.Settings.MaxReduction
	if cap <= 0 {
		cap = 0.4 // documented default cap (§4.5)
	}
	reduction := maxConf
	if reduction > cap {
		reduction = cap
	}
	return reduction, matches
}

func (m *Matcher) matches(entry domain.WhitelistEntry, email, localPart, dom, patternFamily string) bool {
	switch entry.Type {
	case domain.WhitelistExactEmail:
		return strings.EqualFold(entry.Pattern, email)
	case domain.WhitelistExactDomain:
		return strings.EqualFold(entry.Pattern, dom)
	case domain.WhitelistLocalPartRegex:
		re, err := m.cache.compile(entry.Pattern)
		return err == nil && re.MatchString(localPart)
	case domain.WhitelistFullEmailRegex:
		re, err := m.cache.compile(entry.Pattern)
		return err == nil && re.MatchString(email)
	case domain.WhitelistPatternFamily:
		return entry.Pattern == patternFamily
	default:
		return false
	}
}

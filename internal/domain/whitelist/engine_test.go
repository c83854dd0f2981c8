package whitelist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stoik/fraud-shield/internal/domain"
)

func TestEvaluate_ExactDomainMatch(t *testing.T) {
	list := domain.Whitelist{
		Entries: []domain.WhitelistEntry{
			{Type: domain.WhitelistExactDomain, Pattern: "acme.corp", Confidence: 0.5, Enabled: true},
		},
		Settings: domain.WhitelistSettings{MaxReduction: 0.4},
	}
	m := NewMatcher(list)
	reduction, matches := m.Evaluate("tim@acme.corp", "tim", "acme.corp", time.Now())
	assert.InDelta(t, 0.4, reduction, 1e-9) // capped below raw confidence 0.5
	assert.Len(t, matches, 1)
}

func TestEvaluate_ExpiredEntryIgnored(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	list := domain.Whitelist{
		Entries: []domain.WhitelistEntry{
			{Type: domain.WhitelistExactDomain, Pattern: "acme.corp", Confidence: 0.3, Enabled: true, ExpiresAt: &past},
		},
		Settings: domain.WhitelistSettings{MaxReduction: 0.4},
	}
	m := NewMatcher(list)
	reduction, matches := m.Evaluate("tim@acme.corp", "tim", "acme.corp", time.Now())
	assert.Equal(t, 0.0, reduction)
	assert.Empty(t, matches)
}

func TestEvaluate_DisabledEntryIgnored(t *testing.T) {
	list := domain.Whitelist{
		Entries: []domain.WhitelistEntry{
			{Type: domain.WhitelistExactDomain, Pattern: "acme.corp", Confidence: 0.3, Enabled: false},
		},
	}
	m := NewMatcher(list)
	reduction, _ := m.Evaluate("tim@acme.corp", "tim", "acme.corp", time.Now())
	assert.Equal(t, 0.0, reduction)
}

func TestEvaluate_LocalPartRegex(t *testing.T) {
	list := domain.Whitelist{
		Entries: []domain.WhitelistEntry{
			{Type: domain.WhitelistLocalPartRegex, Pattern: `^[a-z]+\.[a-z]+$`, Confidence: 0.2, Enabled: true},
		},
		Settings: domain.WhitelistSettings{MaxReduction: 0.4},
	}
	m := NewMatcher(list)
	reduction, _ := m.Evaluate("jane.doe@corp.com", "jane.doe", "corp.com", time.Now())
	assert.InDelta(t, 0.2, reduction, 1e-9)
}

func TestEvaluate_NoMatchZeroReduction(t *testing.T) {
	m := NewMatcher(domain.Whitelist{})
	reduction, matches := m.Evaluate("a@b.com", "a", "b.com", time.Now())
	assert.Equal(t, 0.0, reduction)
	assert.Empty(t, matches)
}

// Package features derives the numeric feature vector from an email address
// and its optional request context (§4.1 of the design). Every exported
// function here is total: invalid input produces a zero-vector plus an
// invalid_email flag rather than an error, so the pipeline can always reach
// the Scorer and short-circuit there.
package features

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/stoik/fraud-shield/internal/domain"
)

// SuspiciousPlusTags is the canonical set of plus-addressing tags treated as
// suspicious regardless of source-revision drift (§9 Open Question #2).
var SuspiciousPlusTags = map[string]struct{}{
	"test":        {},
	"spam":        {},
	"temp":        {},
	"fake":        {},
	"trash":       {},
	"junk":        {},
	"disposable":  {},
	"throwaway":   {},
	"burner":      {},
	"trial":       {},
}

// genericLocalTokens are base tokens treated as "generic" for sequential
// pattern confidence scoring (§4.1).
var genericLocalTokens = map[string]struct{}{
	"user":  {},
	"test":  {},
	"admin": {},
	"info":  {},
	"guest": {},
	"demo":  {},
}

// Extracted is the outcome of Extract: a partially-filled FeatureVector
// (Markov lanes are filled later by the ensemble) plus the normalized parts
// needed by downstream components.
type Extracted struct {
	Features   domain.FeatureVector
	LocalPart  string // canonical (plus-tag stripped) local part, lower-cased
	RawLocal   string // original local part, lower-cased, plus-tag retained
	Domain     string
	Valid      bool
	PlusTag    string
	HasPlusTag bool
}

// nowFunc is overridable in tests; production code always uses time.Now.
var nowFunc = time.Now

// Extract normalizes email and derives the statistical, linguistic,
// structural, domain, and context feature categories from §3.2. Markov and
// mx_* features are left unset here; MarkovEnsemble and the MX resolver fill
// them in later stages of the pipeline.
func Extract(email string, ctx *domain.RequestContext) Extracted {
	fv := domain.FeatureVector{}

	lower := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(lower, "@")
	if at <= 0 || at == len(lower)-1 || strings.Count(lower, "@") == 0 {
		fv.Set("invalid_email", 1.0)
		return Extracted{Features: fv, Valid: false}
	}

	rawLocal := lower[:at]
	dom := lower[at+1:]
	if rawLocal == "" || dom == "" || !strings.Contains(dom, ".") {
		fv.Set("invalid_email", 1.0)
		return Extracted{Features: fv, Valid: false}
	}

	canonicalLocal, plusTag, hasPlus := stripPlusTag(rawLocal)

	fillStatistical(fv, canonicalLocal)
	fillLinguistic(fv, canonicalLocal)
	fillStructural(fv, canonicalLocal)
	fillPlusAddressing(fv, hasPlus, plusTag)
	fillContext(fv, ctx)

	return Extracted{
		Features:   fv,
		LocalPart:  canonicalLocal,
		RawLocal:   rawLocal,
		Domain:     dom,
		Valid:      true,
		PlusTag:    plusTag,
		HasPlusTag: hasPlus,
	}
}

// stripPlusTag splits "name+tag" into ("name", "tag", true); returns the
// input unchanged with hasTag=false if there is no '+'.
func stripPlusTag(local string) (canonical, tag string, hasTag bool) {
	idx := strings.Index(local, "+")
	if idx < 0 {
		return local, "", false
	}
	return local[:idx], local[idx+1:], true
}

func fillStatistical(fv domain.FeatureVector, s string) {
	n := len(s)
	fv.Set("length", float64(n))

	digits := 0
	symbols := 0
	maxDigitRun, curDigitRun := 0, 0
	seen := map[rune]struct{}{}
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
			curDigitRun++
			if curDigitRun > maxDigitRun {
				maxDigitRun = curDigitRun
			}
		} else {
			curDigitRun = 0
			if !unicode.IsLetter(r) {
				symbols++
			}
		}
		seen[r] = struct{}{}
	}

	fv.Set("digit_count", float64(digits))
	fv.Set("symbol_count", float64(symbols))
	if n > 0 {
		fv.Set("digit_ratio", float64(digits)/float64(n))
		fv.Set("symbol_ratio", float64(symbols)/float64(n))
		fv.Set("unique_char_ratio", float64(len(seen))/float64(n))
	} else {
		fv.Set("digit_ratio", 0)
		fv.Set("symbol_ratio", 0)
		fv.Set("unique_char_ratio", 0)
	}
	fv.Set("max_digit_run", float64(maxDigitRun))
	fv.Set("entropy", shannonEntropy(s))
	fv.Set("bigram_entropy", bigramEntropy(s))
	fv.Set("vowel_gap_ratio", vowelGapRatio(s))
}

// shannonEntropy computes the character-frequency Shannon entropy of s,
// normalized to [0,1] by dividing by log2(len(s)).
func shannonEntropy(s string) float64 {
	n := len(s)
	if n <= 1 {
		return 0
	}
	counts := map[rune]int{}
	for _, r := range s {
		counts[r]++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	max := math.Log2(float64(n))
	if max == 0 {
		return 0
	}
	return clamp01(h / max)
}

// bigramEntropy computes Shannon entropy over consecutive character-pair
// transitions, language-agnostic and unnormalized (raw bits, not [0,1]).
func bigramEntropy(s string) float64 {
	if len(s) < 2 {
		return 0
	}
	counts := map[string]int{}
	total := 0
	for i := 0; i < len(s)-1; i++ {
		counts[s[i:i+2]]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isConsonant(r rune) bool {
	return unicode.IsLetter(r) && !isVowel(r)
}

// vowelGapRatio is the fraction of consonant-run boundaries that exceed a
// length of 2, i.e. how often vowels are "missing" for a stretch.
func vowelGapRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	runs := 0
	longRuns := 0
	cur := 0
	for _, r := range s {
		if isConsonant(r) {
			cur++
		} else {
			if cur > 0 {
				runs++
				if cur > 2 {
					longRuns++
				}
			}
			cur = 0
		}
	}
	if cur > 0 {
		runs++
		if cur > 2 {
			longRuns++
		}
	}
	if runs == 0 {
		return 0
	}
	return float64(longRuns) / float64(runs)
}

func fillLinguistic(fv domain.FeatureVector, s string) {
	n := len(s)
	vowels, consonants := 0, 0
	maxVowelCluster, curVowelCluster := 0, 0
	maxConsCluster, curConsCluster := 0, 0
	maxRepeated, curRepeated := 0, 0
	repeatedTotal := 0
	impossibleClusters := 0
	hasVowel := false

	var prev rune = -1
	consecutiveConsRunes := make([]rune, 0, 4)

	for i, r := range s {
		if isVowel(r) {
			vowels++
			hasVowel = true
			curVowelCluster++
			if curVowelCluster > maxVowelCluster {
				maxVowelCluster = curVowelCluster
			}
		} else {
			curVowelCluster = 0
		}

		if isConsonant(r) {
			consonants++
			curConsCluster++
			if curConsCluster > maxConsCluster {
				maxConsCluster = curConsCluster
			}
			consecutiveConsRunes = append(consecutiveConsRunes, r)
		} else {
			if len(consecutiveConsRunes) >= 4 {
				impossibleClusters++
			}
			consecutiveConsRunes = consecutiveConsRunes[:0]
			curConsCluster = 0
		}

		if prev == r {
			curRepeated++
		} else {
			curRepeated = 1
		}
		if curRepeated > maxRepeated {
			maxRepeated = curRepeated
		}
		if curRepeated > 1 {
			repeatedTotal++
		}
		prev = r
		_ = i
	}
	if len(consecutiveConsRunes) >= 4 {
		impossibleClusters++
	}

	fv.Set("vowel_ratio", ratio(vowels, n))
	fv.Set("consonant_ratio", ratio(consonants, n))
	fv.Set("max_consonant_cluster", float64(maxConsCluster))
	fv.Set("max_vowel_cluster", float64(maxVowelCluster))
	fv.Set("max_repeated_char_run", float64(maxRepeated))
	fv.Set("repeated_char_ratio", ratio(repeatedTotal, n))
	fv.Set("syllable_estimate", syllableEstimate(s))
	fv.Set("impossible_cluster_count", float64(impossibleClusters))
	fv.Set("has_vowel", boolFeature(hasVowel))
	fv.Set("pronounceability", pronounceability(fv, s))
}

func syllableEstimate(s string) float64 {
	count := 0
	prevVowel := false
	for _, r := range s {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if count == 0 && len(s) > 0 {
		count = 1
	}
	return float64(count)
}

// pronounceability combines vowel ratio, consonant-cluster length,
// repetition, digit/symbol ratio, impossible-cluster count, and
// segments-without-vowels ratio into a single [0,1] heuristic (§4.1). It
// reads the statistical and linguistic features already set on fv, so it
// must run after them; the segments-without-vowels ratio it computes itself.
func pronounceability(fv domain.FeatureVector, s string) float64 {
	if len(s) == 0 {
		return 0
	}
	vowelRatio := fv.GetOr("vowel_ratio", 0)
	maxCons := fv.GetOr("max_consonant_cluster", 0)
	repeated := fv.GetOr("repeated_char_ratio", 0)
	digitRatio := fv.GetOr("digit_ratio", 0)
	symbolRatio := fv.GetOr("symbol_ratio", 0)
	impossible := fv.GetOr("impossible_cluster_count", 0)
	segNoVowelRatio := segmentsWithoutVowelsRatio(s)

	score := 1.0
	// vowel ratio sweet spot ~0.35-0.55; penalize far from it
	score -= math.Abs(vowelRatio-0.40) * 0.6
	score -= clamp01(maxCons/6.0) * 0.35
	score -= repeated * 0.25
	score -= digitRatio * 0.3
	score -= symbolRatio * 0.3
	score -= clamp01(impossible/3.0) * 0.3
	score -= segNoVowelRatio * 0.2

	return clamp01(score)
}

func segmentsWithoutVowelsRatio(s string) float64 {
	segs := splitSegments(s)
	if len(segs) == 0 {
		return 0
	}
	noVowel := 0
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		has := false
		for _, r := range seg {
			if isVowel(r) {
				has = true
				break
			}
		}
		if !has {
			noVowel++
		}
	}
	return float64(noVowel) / float64(len(segs))
}

// splitSegments splits a canonical local part on '.', '_', and '-' — the
// structural word-boundary characters (§3.2 has_word_boundaries).
func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
}

func fillStructural(fv domain.FeatureVector, s string) {
	segs := splitSegments(s)
	hasBoundaries := len(segs) > 1
	fv.Set("has_word_boundaries", boolFeature(hasBoundaries))
	fv.Set("segment_count", float64(len(segs)))

	if len(segs) > 0 {
		total := 0
		longest := 0
		for _, seg := range segs {
			total += len(seg)
			if len(seg) > longest {
				longest = len(seg)
			}
		}
		fv.Set("avg_segment_length", float64(total)/float64(len(segs)))
		fv.Set("longest_segment_length", float64(longest))
	} else {
		fv.Set("avg_segment_length", float64(len(s)))
		fv.Set("longest_segment_length", float64(len(s)))
	}
	fv.Set("segments_without_vowels_ratio", segmentsWithoutVowelsRatio(s))
}

func fillPlusAddressing(fv domain.FeatureVector, hasPlus bool, tag string) {
	fv.Set("has_plus_addressing", boolFeature(hasPlus))
	if !hasPlus {
		fv.Set("plus_risk", 0)
		return
	}
	suspicious := isPurelyNumeric(tag)
	if !suspicious {
		_, suspicious = SuspiciousPlusTags[tag]
	}
	if suspicious {
		fv.Set("plus_risk", 1.0)
	} else {
		fv.Set("plus_risk", 0.0)
	}
}

func isPurelyNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func fillContext(fv domain.FeatureVector, ctx *domain.RequestContext) {
	if ctx == nil || ctx.BotScore == nil {
		return // left unset: null at persistence, never coerced to 0
	}
	fv.Set("bot_score", *ctx.BotScore)
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SequentialPattern describes a detected trailing numeric run on a
// canonical local part (§4.1).
type SequentialPattern struct {
	Found      bool
	Run        string
	Confidence float64
	IsBirthYear bool
}

// DetectSequentialPattern finds a trailing numeric run and scores it by
// length, leading zeros, digit ratio, and whether the base token is generic.
// 4-digit substrings that parse as a plausible birth year (13-100 years old
// relative to referenceYear) are exempted from the sequential-pattern
// penalty and handed instead to DetectDatedPattern.
func DetectSequentialPattern(canonicalLocal string, referenceYear int) SequentialPattern {
	n := len(canonicalLocal)
	i := n
	for i > 0 && unicode.IsDigit(rune(canonicalLocal[i-1])) {
		i--
	}
	run := canonicalLocal[i:]
	if run == "" {
		return SequentialPattern{}
	}

	if len(run) == 4 {
		if year, err := strconv.Atoi(run); err == nil {
			age := referenceYear - year
			if age >= 13 && age <= 100 {
				return SequentialPattern{Found: true, Run: run, IsBirthYear: true}
			}
		}
	}

	base := canonicalLocal[:i]
	leadingZeros := 0
	for _, c := range run {
		if c == '0' {
			leadingZeros++
		} else {
			break
		}
	}

	confidence := 0.0
	confidence += clamp01(float64(len(run)) / 8.0)
	confidence += clamp01(float64(leadingZeros) / 3.0) * 0.2
	confidence += ratio(countDigits(canonicalLocal), n) * 0.3
	if _, generic := genericLocalTokens[base]; generic {
		confidence += 0.3
	}

	return SequentialPattern{Found: true, Run: run, Confidence: clamp01(confidence)}
}

func countDigits(s string) int {
	c := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			c++
		}
	}
	return c
}

// DatedPattern is the outcome of classifying a trailing 4-digit year run by
// temporal distance from referenceYear (§4.1).
type DatedPattern struct {
	Found bool
	Year  int
	Risk  float64
}

// DetectDatedPattern classifies a trailing 4-digit year substring of
// canonicalLocal. hasMonthOrDate elevates the plausible-birth-year base risk
// since a full date accompanying a year is a stronger signal either way.
func DetectDatedPattern(canonicalLocal string, referenceYear int, hasMonthOrDate bool) DatedPattern {
	n := len(canonicalLocal)
	i := n
	for i > 0 && unicode.IsDigit(rune(canonicalLocal[i-1])) {
		i--
	}
	run := canonicalLocal[i:]
	if len(run) != 4 {
		return DatedPattern{}
	}
	year, err := strconv.Atoi(run)
	if err != nil {
		return DatedPattern{}
	}

	age := referenceYear - year
	var risk float64
	switch {
	case age < 0:
		risk = 0.95
	case age <= 2:
		risk = 0.90
	case age <= 12:
		risk = 0.70
	case age <= 65:
		risk = 0.20
		if hasMonthOrDate {
			risk = 0.675 // midpoint of 0.60-0.75
		}
	case age <= 100:
		risk = 0.40
	default:
		risk = 0.80
	}

	return DatedPattern{Found: true, Year: year, Risk: risk}
}

// CurrentReferenceYear returns the calendar year used for birth-year/dated
// pattern math; kept as a function (rather than a bare time.Now().Year())
// so tests can pin it.
func CurrentReferenceYear() int {
	return nowFunc().Year()
}

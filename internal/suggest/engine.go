// Package suggest scores how well a work entry explains a commit. Scoring
// is pure: same commit, same entries, same weights, same answer. Anything
// time- or state-dependent stays with the caller.
package suggest

import (
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"

	"gitsheet/api/internal/store"
	"gitsheet/api/internal/timesheet"
)

// Weights distributes the 100 confidence points over the three signals.
type Weights struct {
	Author   int
	Temporal int
	Lexical  int
}

// DefaultWeights reflects the observed reliability of each signal: author
// identity rarely lies, timestamps drift, wording overlaps by accident.
var DefaultWeights = Weights{Author: 40, Temporal: 35, Lexical: 25}

// Components holds each signal's contribution in raw 0..1 form, before the
// weights are applied. Kept on the suggestion so a reviewer can see why a
// pairing scored the way it did.
type Components struct {
	Author   float64
	Temporal float64
	Lexical  float64
}

type Suggestion struct {
	EntryID    string
	Confidence int
	Components Components
	// Fallback marks a pairing that no signal supported; it exists only
	// because the caller asked for full coverage.
	Fallback bool
}

type Engine struct {
	weights       Weights
	minConfidence int
}

func New(weights Weights, minConfidence int) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Engine{weights: weights, minConfidence: minConfidence}
}

// Score rates one commit/entry pairing on a 0..100 scale.
func (e *Engine) Score(commit store.Commit, entry timesheet.Entry) (int, Components) {
	comp := Components{
		Author:   authorAffinity(commit, entry),
		Temporal: temporalAffinity(commit.CommittedAt, entry.Date),
		Lexical:  lexicalAffinity(commit.Message, entry.Description),
	}
	confidence := int(comp.Author*float64(e.weights.Author) +
		comp.Temporal*float64(e.weights.Temporal) +
		comp.Lexical*float64(e.weights.Lexical))
	if confidence > 100 {
		confidence = 100
	}
	return confidence, comp
}

// Rank scores the commit against every entry and orders the result best
// first. Ties break on the temporal component, then on entry ID, so the
// order is stable across runs.
func (e *Engine) Rank(commit store.Commit, entries []timesheet.Entry) []Suggestion {
	ranked := make([]Suggestion, 0, len(entries))
	for _, entry := range entries {
		confidence, comp := e.Score(commit, entry)
		ranked = append(ranked, Suggestion{EntryID: entry.ID, Confidence: confidence, Components: comp})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if ranked[i].Components.Temporal != ranked[j].Components.Temporal {
			return ranked[i].Components.Temporal > ranked[j].Components.Temporal
		}
		return ranked[i].EntryID < ranked[j].EntryID
	})
	return ranked
}

// Best returns the top suggestion at or above the confidence floor. The
// second return is false when nothing clears it.
func (e *Engine) Best(commit store.Commit, entries []timesheet.Entry) (Suggestion, bool) {
	ranked := e.Rank(commit, entries)
	if len(ranked) == 0 || ranked[0].Confidence < e.minConfidence {
		return Suggestion{}, false
	}
	return ranked[0], true
}

// fallbackConfidence is the fixed score for coverage-only pairings.
const fallbackConfidence = 10

// Match pairs every commit with an entry. Commits whose best score clears
// the floor get that entry; the rest are distributed round-robin over the
// entries at a fixed low confidence so no commit is left unpaired.
func (e *Engine) Match(commits []store.Commit, entries []timesheet.Entry) map[string]Suggestion {
	matches := make(map[string]Suggestion, len(commits))
	if len(entries) == 0 {
		return matches
	}
	for i, commit := range commits {
		if best, ok := e.Best(commit, entries); ok {
			matches[commit.ID] = best
			continue
		}
		matches[commit.ID] = Suggestion{
			EntryID:    entries[i%len(entries)].ID,
			Confidence: fallbackConfidence,
			Fallback:   true,
		}
	}
	return matches
}

// nameSimilarityFloor is the match threshold for fuzzy author names, and
// fuzzyAuthorCredit is the discounted affinity a fuzzy match earns.
const (
	nameSimilarityFloor = 0.8
	fuzzyAuthorCredit   = 0.8
)

func authorAffinity(commit store.Commit, entry timesheet.Entry) float64 {
	commitEmail := strings.ToLower(strings.TrimSpace(commit.AuthorEmail))
	entryEmail := strings.ToLower(strings.TrimSpace(entry.UserEmail))
	if commitEmail != "" && commitEmail == entryEmail {
		return 1
	}
	commitName := strings.ToLower(strings.TrimSpace(commit.AuthorName))
	entryName := strings.ToLower(strings.TrimSpace(entry.UserName))
	if commitName == "" || entryName == "" {
		return 0
	}
	if levenshtein.Similarity(commitName, entryName, nil) >= nameSimilarityFloor {
		return fuzzyAuthorCredit
	}
	return 0
}

func temporalAffinity(committedAt, entryDate time.Time) float64 {
	days := calendarDay(committedAt) - calendarDay(entryDate)
	if days < 0 {
		days = -days
	}
	switch {
	case days == 0:
		return 1
	case days <= 1:
		return 0.75
	case days <= 3:
		return 0.5
	case days <= 7:
		return 0.25
	default:
		return 0
	}
}

// calendarDay counts whole UTC days since the epoch, so the buckets compare
// calendar dates rather than rolling 24h windows.
func calendarDay(t time.Time) int {
	return int(t.UTC().Unix() / 86400)
}

func lexicalAffinity(message, description string) float64 {
	commitTokens := tokenize(message)
	entryTokens := tokenize(description)
	if len(commitTokens) == 0 || len(entryTokens) == 0 {
		return 0
	}
	shared := 0
	for token := range commitTokens {
		if _, ok := entryTokens[token]; ok {
			shared++
		}
	}
	union := len(commitTokens) + len(entryTokens) - shared
	return float64(shared) / float64(union)
}

// stopwords are tokens too common to signal anything.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "for": {}, "in": {}, "of": {},
	"on": {}, "the": {}, "to": {}, "with": {},
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, field := range fields {
		if len(field) < 3 {
			continue
		}
		if _, skip := stopwords[field]; skip {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}

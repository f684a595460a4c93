package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsheet/api/internal/store"
	"gitsheet/api/internal/timesheet"
)

func day(offset int) time.Time {
	return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestScoreExactAuthorSameDay(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commit := store.Commit{
		AuthorName:  "Jane Doe",
		AuthorEmail: "jane@x.com",
		CommittedAt: day(0),
		Message:     "fix: login redirect loop",
	}
	entry := timesheet.Entry{
		ID:          "ts_1",
		UserName:    "Jane Doe",
		UserEmail:   "jane@x.com",
		Date:        day(0),
		Description: "Fixed the login redirect loop",
	}

	confidence, comp := engine.Score(commit, entry)
	assert.Equal(t, 1.0, comp.Author)
	assert.Equal(t, 1.0, comp.Temporal)
	assert.Greater(t, comp.Lexical, 0.0)
	// 40 author + 35 temporal puts it well above the floor before lexical.
	assert.GreaterOrEqual(t, confidence, 75)
}

func TestScoreFuzzyAuthorName(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commit := store.Commit{
		AuthorName:  "jane doe",
		AuthorEmail: "jane@users.noreply.github.com",
		CommittedAt: day(0),
	}
	entry := timesheet.Entry{ID: "ts_1", UserName: "Jane Doe ", UserEmail: "jane@x.com", Date: day(0)}

	_, comp := engine.Score(commit, entry)
	assert.Equal(t, 0.8, comp.Author)
}

func TestScoreNoSignals(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commit := store.Commit{
		AuthorName:  "Bob",
		AuthorEmail: "bob@x.com",
		CommittedAt: day(0),
		Message:     "refactor: extract parser",
	}
	entry := timesheet.Entry{
		ID:        "ts_1",
		UserName:  "Alice",
		UserEmail: "alice@x.com",
		Date:      day(30),
	}

	confidence, _ := engine.Score(commit, entry)
	assert.Equal(t, 0, confidence)
}

func TestTemporalBuckets(t *testing.T) {
	cases := []struct {
		name   string
		offset int
		want   float64
	}{
		{"same day", 0, 1},
		{"one day", 1, 0.75},
		{"three days", 3, 0.5},
		{"seven days", 7, 0.25},
		{"eight days", 8, 0},
		{"three days before", -3, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, temporalAffinity(day(0), day(tc.offset)))
		})
	}
}

func TestRankIsDeterministic(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commit := store.Commit{
		AuthorName:  "Jane Doe",
		AuthorEmail: "jane@x.com",
		CommittedAt: day(0),
		Message:     "feat: export report",
	}
	// Two entries scoring identically apart from their IDs.
	entries := []timesheet.Entry{
		{ID: "ts_b", UserEmail: "jane@x.com", Date: day(0)},
		{ID: "ts_a", UserEmail: "jane@x.com", Date: day(0)},
	}

	first := engine.Rank(commit, entries)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Rank(commit, entries))
	}
	// Equal score and temporal component: lower ID wins.
	require.Len(t, first, 2)
	assert.Equal(t, "ts_a", first[0].EntryID)
}

func TestRankTemporalTieBreak(t *testing.T) {
	engine := New(Weights{Author: 40, Temporal: 0, Lexical: 60}, 0)
	commit := store.Commit{AuthorEmail: "jane@x.com", CommittedAt: day(0)}
	// Temporal weight is zero so both score the same, but the closer entry
	// must still rank first.
	entries := []timesheet.Entry{
		{ID: "ts_far", UserEmail: "jane@x.com", Date: day(5)},
		{ID: "ts_near", UserEmail: "jane@x.com", Date: day(0)},
	}

	ranked := engine.Rank(commit, entries)
	require.Len(t, ranked, 2)
	assert.Equal(t, "ts_near", ranked[0].EntryID)
}

func TestBestBelowFloor(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commit := store.Commit{AuthorEmail: "bob@x.com", CommittedAt: day(0)}
	entries := []timesheet.Entry{{ID: "ts_1", UserEmail: "alice@x.com", Date: day(20)}}

	_, ok := engine.Best(commit, entries)
	assert.False(t, ok)
}

func TestMatchFallsBackRoundRobin(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commits := []store.Commit{
		{ID: "c1", AuthorEmail: "x@x.com", CommittedAt: day(0)},
		{ID: "c2", AuthorEmail: "x@x.com", CommittedAt: day(0)},
		{ID: "c3", AuthorEmail: "x@x.com", CommittedAt: day(0)},
	}
	entries := []timesheet.Entry{
		{ID: "ts_1", UserEmail: "other@x.com", Date: day(30)},
		{ID: "ts_2", UserEmail: "other@x.com", Date: day(30)},
	}

	matches := engine.Match(commits, entries)
	require.Len(t, matches, 3)
	assert.Equal(t, "ts_1", matches["c1"].EntryID)
	assert.Equal(t, "ts_2", matches["c2"].EntryID)
	assert.Equal(t, "ts_1", matches["c3"].EntryID)
	for _, match := range matches {
		assert.True(t, match.Fallback)
		assert.Equal(t, fallbackConfidence, match.Confidence)
	}
}

func TestMatchPrefersScoredPairings(t *testing.T) {
	engine := New(DefaultWeights, 30)
	commits := []store.Commit{
		{ID: "c1", AuthorEmail: "jane@x.com", CommittedAt: day(0), Message: "fix: crash on save"},
	}
	entries := []timesheet.Entry{
		{ID: "ts_other", UserEmail: "bob@x.com", Date: day(30)},
		{ID: "ts_jane", UserEmail: "jane@x.com", Date: day(0), Description: "fixed crash on save"},
	}

	matches := engine.Match(commits, entries)
	require.Contains(t, matches, "c1")
	assert.Equal(t, "ts_jane", matches["c1"].EntryID)
	assert.False(t, matches["c1"].Fallback)
}

func TestMatchNoEntries(t *testing.T) {
	engine := New(DefaultWeights, 30)
	matches := engine.Match([]store.Commit{{ID: "c1"}}, nil)
	assert.Empty(t, matches)
}

func TestLexicalAffinity(t *testing.T) {
	assert.Equal(t, 0.0, lexicalAffinity("", "worked on things"))
	assert.Equal(t, 0.0, lexicalAffinity("fix: login", ""))
	assert.Equal(t, 1.0, lexicalAffinity("login redirect", "redirect login"))
	assert.Greater(t,
		lexicalAffinity("fix: login redirect loop", "fixed login redirect"),
		lexicalAffinity("fix: login redirect loop", "quarterly planning meeting"))
}

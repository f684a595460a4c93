package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitsheet/api/internal/forge"
	"gitsheet/api/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	commits     map[string]store.Commit // keyed by hash
	checkpoints []time.Time
	states      []string

	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{commits: make(map[string]store.Commit)}
}

func (f *fakeStore) UpsertCommit(_ context.Context, item store.Commit) (store.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	if _, ok := f.commits[item.Hash]; ok {
		return store.UpsertUnchanged, nil
	}
	f.commits[item.Hash] = item
	return store.UpsertInserted, nil
}

func (f *fakeStore) AdvanceCheckpoint(_ context.Context, _ string, checkpoint time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append(f.checkpoints, checkpoint)
	return nil
}

func (f *fakeStore) SetRepositoryState(_ context.Context, _ string, state, stateError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeStore) lastState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return ""
	}
	return f.states[len(f.states)-1]
}

type fakeClient struct {
	pages []forge.CommitPage
	errs  []error // consumed before pages, one per call
	calls int
}

func (f *fakeClient) TestConnection(context.Context) (forge.RepoInfo, error) {
	return forge.RepoInfo{}, nil
}

func (f *fakeClient) ListBranches(context.Context) ([]forge.Branch, error) {
	return nil, nil
}

func (f *fakeClient) ListCommits(_ context.Context, opts forge.ListOptions) (forge.CommitPage, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return forge.CommitPage{}, err
		}
	}
	index := opts.Page - 1
	if index < 0 || index >= len(f.pages) {
		return forge.CommitPage{Commits: []forge.Commit{}}, nil
	}
	return f.pages[index], nil
}

func upstreamCommit(hash string, committedAt time.Time, message string) forge.Commit {
	return forge.Commit{
		Hash:        strings.Repeat(hash, 40/len(hash)),
		AuthorName:  "Jane Doe",
		AuthorEmail: "jane@x.com",
		CommittedAt: committedAt,
		Message:     message,
	}
}

func testSyncer(st Store) *Syncer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	sy := New(st, logrus.NewEntry(logger), Options{
		MaxAttempts:  3,
		PageTimeout:  time.Second,
		MinPageDelay: time.Millisecond,
		ClockSkewMax: 5 * time.Minute,
	})
	sy.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return sy
}

func testRepo() store.Repository {
	return store.Repository{
		ID:            "repo_1",
		Platform:      store.PlatformGitHub,
		DefaultBranch: "main",
		Active:        true,
	}
}

func TestSyncIngestsPages(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{pages: []forge.CommitPage{
		{
			Commits:  []forge.Commit{upstreamCommit("a", base, "feat: one"), upstreamCommit("b", base.Add(time.Hour), "fix: two")},
			NextPage: 2,
		},
		{
			Commits: []forge.Commit{upstreamCommit("c", base.Add(2*time.Hour), "three")},
		},
	}}
	st := newFakeStore()

	var progress []Progress
	report, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "", Window{}, func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 0, report.Unchanged)
	assert.Equal(t, base.Add(2*time.Hour), report.Checkpoint)
	assert.Equal(t, store.RepoStateConnected, st.lastState())
	require.Len(t, progress, 2)
	assert.Equal(t, 3, progress[1].Inserted)

	stored := st.commits[strings.Repeat("a", 40)]
	assert.Equal(t, store.TypeFeature, stored.CommitType)
	assert.Equal(t, "main", stored.Branch)
}

func TestSyncIsIdempotent(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{pages: []forge.CommitPage{
		{Commits: []forge.Commit{upstreamCommit("a", base, "one"), upstreamCommit("b", base, "two")}},
	}}
	st := newFakeStore()
	sy := testSyncer(st)

	first, err := sy.Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)
	second, err := sy.Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Unchanged)
	assert.Len(t, st.commits, 2)
}

func TestSyncRetriesTransientErrors(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	transient := &forge.Error{Kind: forge.KindTransient, Message: "gateway timeout"}
	client := &fakeClient{
		errs:  []error{transient, transient},
		pages: []forge.CommitPage{{Commits: []forge.Commit{upstreamCommit("a", base, "one")}}},
	}
	st := newFakeStore()

	report, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 3, client.calls)
}

func TestSyncAuthErrorIsPermanent(t *testing.T) {
	client := &fakeClient{
		errs: []error{&forge.Error{Kind: forge.KindAuth, Message: "bad credentials"}},
	}
	st := newFakeStore()

	_, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.Error(t, err)
	assert.True(t, forge.IsAuth(err))
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, store.RepoStateError, st.lastState())
}

func TestSyncSkipsFutureCommits(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{pages: []forge.CommitPage{
		{Commits: []forge.Commit{
			upstreamCommit("a", now.Add(-time.Hour), "valid"),
			upstreamCommit("b", now.Add(time.Hour), "from the future"),
		}},
	}}
	st := newFakeStore()

	report, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, strings.Repeat("b", 40), report.Skipped[0].Hash)
	// A skipped commit must never drag the checkpoint forward.
	assert.Equal(t, now.Add(-time.Hour), report.Checkpoint)
}

func TestSyncSkipsMalformedHashes(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	bad := forge.Commit{Hash: "not-a-hash", CommittedAt: base}
	client := &fakeClient{pages: []forge.CommitPage{
		{Commits: []forge.Commit{bad, upstreamCommit("a", base, "ok")}},
	}}
	st := newFakeStore()

	report, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "malformed hash", report.Skipped[0].Reason)
}

func TestSyncWidensCheckpointWindow(t *testing.T) {
	checkpoint := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	repo := testRepo()
	repo.Checkpoint = &checkpoint

	client := &captureClient{}
	st := newFakeStore()

	_, err := testSyncer(st).Sync(context.Background(), repo, client, "main", Window{}, nil)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Add(-5*time.Minute), client.since)
	assert.True(t, client.until.IsZero())
}

func TestSyncExplicitWindowOverridesCheckpoint(t *testing.T) {
	checkpoint := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	repo := testRepo()
	repo.Checkpoint = &checkpoint

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	client := &captureClient{}
	st := newFakeStore()

	_, err := testSyncer(st).Sync(context.Background(), repo, client, "main", Window{Since: &since, Until: &until}, nil)
	require.NoError(t, err)
	assert.Equal(t, since, client.since)
	assert.Equal(t, until, client.until)
}

// Narrowing the window excludes a commit; a later widened run adds exactly
// that commit and leaves the earlier rows untouched.
func TestSyncWidenedWindowAddsOnlyMissingCommits(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	client := &windowClient{commits: []forge.Commit{
		upstreamCommit("a", base, "one"),
		upstreamCommit("b", base.Add(time.Hour), "two"),
		upstreamCommit("c", base.Add(2*time.Hour), "three"),
	}}
	st := newFakeStore()
	sy := testSyncer(st)

	narrowEnd := base.Add(90 * time.Minute)
	narrow, err := sy.Sync(context.Background(), testRepo(), client, "main", Window{Since: &base, Until: &narrowEnd}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, narrow.Inserted)

	wideEnd := base.Add(3 * time.Hour)
	wide, err := sy.Sync(context.Background(), testRepo(), client, "main", Window{Since: &base, Until: &wideEnd}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, wide.Inserted)
	assert.Equal(t, 2, wide.Unchanged)
	assert.Len(t, st.commits, 3)
}

func TestSyncPausesOnRateHint(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	hint := &forge.RateLimitHint{Remaining: 50, RetryAfter: 40 * time.Millisecond}
	client := &fakeClient{pages: []forge.CommitPage{
		{Commits: []forge.Commit{upstreamCommit("a", base, "one")}, NextPage: 2, RateLimit: hint},
		{Commits: []forge.Commit{upstreamCommit("b", base.Add(time.Hour), "two")}},
	}}
	st := newFakeStore()

	started := time.Now()
	report, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

type captureClient struct {
	since time.Time
	until time.Time
}

func (c *captureClient) TestConnection(context.Context) (forge.RepoInfo, error) {
	return forge.RepoInfo{}, nil
}

func (c *captureClient) ListBranches(context.Context) ([]forge.Branch, error) { return nil, nil }

func (c *captureClient) ListCommits(_ context.Context, opts forge.ListOptions) (forge.CommitPage, error) {
	c.since = opts.Since
	c.until = opts.Until
	return forge.CommitPage{Commits: []forge.Commit{}}, nil
}

// windowClient serves a fixed history filtered by the requested window.
type windowClient struct {
	commits []forge.Commit
}

func (c *windowClient) TestConnection(context.Context) (forge.RepoInfo, error) {
	return forge.RepoInfo{}, nil
}

func (c *windowClient) ListBranches(context.Context) ([]forge.Branch, error) { return nil, nil }

func (c *windowClient) ListCommits(_ context.Context, opts forge.ListOptions) (forge.CommitPage, error) {
	matched := make([]forge.Commit, 0, len(c.commits))
	for _, commit := range c.commits {
		if !opts.Since.IsZero() && commit.CommittedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && commit.CommittedAt.After(opts.Until) {
			continue
		}
		matched = append(matched, commit)
	}
	return forge.CommitPage{Commits: matched}, nil
}

func TestSyncCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{pages: []forge.CommitPage{{Commits: []forge.Commit{}}}}
	st := newFakeStore()

	_, err := testSyncer(st).Sync(ctx, testRepo(), client, "main", Window{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, store.RepoStateError, st.lastState())
}

func TestSyncUpsertFailureAborts(t *testing.T) {
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	client := &fakeClient{pages: []forge.CommitPage{
		{Commits: []forge.Commit{upstreamCommit("a", base, "one")}},
	}}
	st := newFakeStore()
	st.upsertErr = errors.New("connection reset")

	_, err := testSyncer(st).Sync(context.Background(), testRepo(), client, "main", Window{}, nil)
	require.Error(t, err)
	assert.Equal(t, store.RepoStateError, st.lastState())
}

// Package syncer pulls commit history from a connected repository into the
// local store. Pulls are idempotent: re-running a sync over an already
// ingested window changes nothing, so the pipeline retries and resumes
// freely.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"gitsheet/api/internal/forge"
	"gitsheet/api/internal/store"
	"gitsheet/api/internal/util"
)

// Store is the slice of the persistence layer the pipeline needs.
type Store interface {
	UpsertCommit(ctx context.Context, item store.Commit) (store.UpsertOutcome, error)
	AdvanceCheckpoint(ctx context.Context, repositoryID string, checkpoint time.Time) error
	SetRepositoryState(ctx context.Context, repositoryID, state, stateError string) error
}

type Options struct {
	PageSize     int
	MaxAttempts  int
	PageTimeout  time.Duration
	MinPageDelay time.Duration
	ClockSkewMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 30 * time.Second
	}
	if o.MinPageDelay <= 0 {
		o.MinPageDelay = 500 * time.Millisecond
	}
	if o.ClockSkewMax <= 0 {
		o.ClockSkewMax = 5 * time.Minute
	}
	return o
}

// Window bounds a sync run. A nil Since falls back to the repository's
// stored checkpoint; a nil Until leaves the run open-ended.
type Window struct {
	Since *time.Time
	Until *time.Time
}

// Progress is a point-in-time snapshot emitted after every ingested page.
type Progress struct {
	Page      int
	Fetched   int
	Inserted  int
	Unchanged int
	Skipped   int
}

// SkippedCommit records a commit the pipeline refused to ingest. Skips do
// not fail the run; the commit is reported and the sync moves on.
type SkippedCommit struct {
	Hash   string
	Reason string
}

type Report struct {
	Pages      int
	Fetched    int
	Inserted   int
	Unchanged  int
	Skipped    []SkippedCommit
	Checkpoint time.Time
}

type Syncer struct {
	store Store
	log   *logrus.Entry
	opts  Options
	now   func() time.Time
}

func New(st Store, log *logrus.Entry, opts Options) *Syncer {
	return &Syncer{store: st, log: log, opts: opts.withDefaults(), now: time.Now}
}

// Sync ingests the repository's history on the given branch within the
// window, resuming from the stored checkpoint when the window leaves the
// start open. onProgress may be nil.
func (s *Syncer) Sync(ctx context.Context, repo store.Repository, client forge.Client, branch string, window Window, onProgress func(Progress)) (Report, error) {
	if branch == "" {
		branch = repo.DefaultBranch
	}
	log := s.log.WithFields(logrus.Fields{
		"repository": repo.ID,
		"platform":   repo.Platform,
		"branch":     branch,
	})

	var since, until time.Time
	switch {
	case window.Since != nil:
		since = window.Since.UTC()
	case repo.Checkpoint != nil:
		// Widen the window backwards by the skew allowance. Commits pushed
		// late with timestamps just under the checkpoint are re-fetched
		// and deduplicated instead of silently lost.
		since = repo.Checkpoint.Add(-s.opts.ClockSkewMax)
	}
	if window.Until != nil {
		until = window.Until.UTC()
	}

	report := Report{Checkpoint: since}
	limiter := rate.NewLimiter(rate.Every(s.opts.MinPageDelay), 1)

	page := 1
	for {
		if err := limiter.Wait(ctx); err != nil {
			return report, s.fail(ctx, log, repo.ID, err)
		}
		commitPage, err := s.fetchPage(ctx, client, forge.ListOptions{
			Branch:  branch,
			Since:   since,
			Until:   until,
			Page:    page,
			PerPage: s.opts.PageSize,
		})
		if err != nil {
			return report, s.fail(ctx, log, repo.ID, err)
		}
		report.Pages++

		pageMax := time.Time{}
		for _, upstream := range commitPage.Commits {
			item, skip := s.toStoreCommit(repo.ID, branch, upstream)
			if skip != "" {
				report.Skipped = append(report.Skipped, SkippedCommit{Hash: upstream.Hash, Reason: skip})
				log.WithFields(logrus.Fields{"hash": upstream.Hash, "reason": skip}).Warn("commit skipped")
				continue
			}
			report.Fetched++
			outcome, err := s.store.UpsertCommit(ctx, item)
			if err != nil {
				return report, s.fail(ctx, log, repo.ID, fmt.Errorf("upsert commit %s: %w", item.ShortHash(), err))
			}
			switch outcome {
			case store.UpsertInserted:
				report.Inserted++
			case store.UpsertUnchanged:
				report.Unchanged++
			}
			if item.CommittedAt.After(pageMax) {
				pageMax = item.CommittedAt
			}
		}

		// Advance the checkpoint after each page so an interrupted run
		// resumes from the last durable page, not from scratch.
		if pageMax.After(report.Checkpoint) {
			report.Checkpoint = pageMax
			if err := s.store.AdvanceCheckpoint(ctx, repo.ID, pageMax); err != nil {
				return report, s.fail(ctx, log, repo.ID, err)
			}
		}

		if onProgress != nil {
			onProgress(Progress{
				Page:      page,
				Fetched:   report.Fetched,
				Inserted:  report.Inserted,
				Unchanged: report.Unchanged,
				Skipped:   len(report.Skipped),
			})
		}
		if commitPage.RateLimit != nil && commitPage.RateLimit.Remaining > 0 && commitPage.RateLimit.Remaining < 20 {
			log.WithField("remaining", commitPage.RateLimit.Remaining).Warn("upstream rate budget low")
		}

		if commitPage.NextPage == 0 {
			break
		}
		// A retry hint on a successful page pauses the pipeline before the
		// next fetch instead of waiting for the 429.
		if commitPage.RateLimit != nil && commitPage.RateLimit.RetryAfter > 0 {
			log.WithField("retry_after", commitPage.RateLimit.RetryAfter).Warn("pausing on upstream rate hint")
			select {
			case <-time.After(commitPage.RateLimit.RetryAfter):
			case <-ctx.Done():
				return report, s.fail(ctx, log, repo.ID, ctx.Err())
			}
		}
		page = commitPage.NextPage
	}

	if err := s.store.SetRepositoryState(ctx, repo.ID, store.RepoStateConnected, ""); err != nil {
		return report, err
	}
	log.WithFields(logrus.Fields{
		"pages":     report.Pages,
		"inserted":  report.Inserted,
		"unchanged": report.Unchanged,
		"skipped":   len(report.Skipped),
	}).Info("sync complete")
	return report, nil
}

// fetchPage retrieves one page with exponential backoff. Auth and not-found
// failures are permanent; rate limits honor the platform's retry hint
// before the next attempt.
func (s *Syncer) fetchPage(ctx context.Context, client forge.Client, opts forge.ListOptions) (forge.CommitPage, error) {
	var page forge.CommitPage
	operation := func() error {
		pageCtx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
		defer cancel()
		var err error
		page, err = client.ListCommits(pageCtx, opts)
		if err == nil {
			return nil
		}
		if forge.IsAuth(err) || forge.IsNotFound(err) {
			return backoff.Permanent(err)
		}
		if wait := forge.RetryAfter(err); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return forge.CommitPage{}, fmt.Errorf("list commits page %d: %w", opts.Page, err)
	}
	return page, nil
}

// toStoreCommit normalizes an upstream commit for storage. The returned
// reason is non-empty when the commit must be skipped.
func (s *Syncer) toStoreCommit(repositoryID, branch string, upstream forge.Commit) (store.Commit, string) {
	committedAt := upstream.CommittedAt.UTC()
	if committedAt.After(s.now().UTC().Add(s.opts.ClockSkewMax)) {
		return store.Commit{}, "committed_at is in the future"
	}
	hash := strings.ToLower(strings.TrimSpace(upstream.Hash))
	if len(hash) != 40 {
		return store.Commit{}, "malformed hash"
	}
	return store.Commit{
		ID:           util.NewID("cmt"),
		RepositoryID: repositoryID,
		Hash:         hash,
		AuthorName:   upstream.AuthorName,
		AuthorEmail:  strings.ToLower(upstream.AuthorEmail),
		CommittedAt:  committedAt,
		Message:      upstream.Message,
		Branch:       branch,
		FilesChanged: upstream.FilesChanged,
		Additions:    upstream.Additions,
		Deletions:    upstream.Deletions,
		CommitType:   ClassifyMessage(upstream.Message),
	}, ""
}

// fail marks the repository errored and passes the cause through. The state
// write uses a fresh context because the run's context may already be dead.
func (s *Syncer) fail(ctx context.Context, log *logrus.Entry, repositoryID string, cause error) error {
	log.WithError(cause).Error("sync failed")
	stateCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stateCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.store.SetRepositoryState(stateCtx, repositoryID, store.RepoStateError, cause.Error()); err != nil {
		log.WithError(err).Error("record sync failure state")
	}
	return cause
}

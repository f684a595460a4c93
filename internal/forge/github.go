package forge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v66/github"
)

type githubClient struct {
	client *github.Client
	owner  string
	repo   string
}

func newGitHubClient(opts ConnectOptions) (*githubClient, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("github connection requires owner and repository name")
	}
	client := github.NewClient(nil)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	return &githubClient{client: client, owner: opts.Owner, repo: opts.Repo}, nil
}

func (g *githubClient) TestConnection(ctx context.Context) (RepoInfo, error) {
	repo, resp, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return RepoInfo{}, classifyGitHub(resp, err, "get repository")
	}
	return RepoInfo{
		Name:          repo.GetName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Private:       repo.GetPrivate(),
	}, nil
}

func (g *githubClient) ListBranches(ctx context.Context) ([]Branch, error) {
	branches := make([]Branch, 0)
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		page, resp, err := g.client.Repositories.ListBranches(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, classifyGitHub(resp, err, "list branches")
		}
		for _, branch := range page {
			branches = append(branches, Branch{
				Name:     branch.GetName(),
				HeadHash: branch.GetCommit().GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return branches, nil
}

func (g *githubClient) ListCommits(ctx context.Context, opts ListOptions) (CommitPage, error) {
	listOpts := &github.CommitsListOptions{
		SHA:         opts.Branch,
		Since:       opts.Since,
		Until:       opts.Until,
		ListOptions: github.ListOptions{Page: opts.Page, PerPage: opts.PerPage},
	}
	commits, resp, err := g.client.Repositories.ListCommits(ctx, g.owner, g.repo, listOpts)
	if err != nil {
		return CommitPage{}, classifyGitHub(resp, err, "list commits")
	}

	page := CommitPage{
		Commits:   make([]Commit, 0, len(commits)),
		NextPage:  resp.NextPage,
		RateLimit: githubRateHint(resp),
	}
	for _, item := range commits {
		commit := Commit{
			Hash:        item.GetSHA(),
			AuthorName:  item.GetCommit().GetAuthor().GetName(),
			AuthorEmail: item.GetCommit().GetAuthor().GetEmail(),
			CommittedAt: item.GetCommit().GetAuthor().GetDate().Time,
			Message:     item.GetCommit().GetMessage(),
		}
		// The list endpoint omits change counters; fetch them per commit
		// the way the GitHub API requires.
		detail, detailResp, err := g.client.Repositories.GetCommit(ctx, g.owner, g.repo, commit.Hash, nil)
		if err != nil {
			return CommitPage{}, classifyGitHub(detailResp, err, "get commit "+commit.Hash)
		}
		commit.FilesChanged = len(detail.Files)
		commit.Additions = detail.GetStats().GetAdditions()
		commit.Deletions = detail.GetStats().GetDeletions()
		page.Commits = append(page.Commits, commit)
	}
	return page, nil
}

func githubRateHint(resp *github.Response) *RateLimitHint {
	if resp == nil {
		return nil
	}
	hint := &RateLimitHint{Remaining: resp.Rate.Remaining}
	if resp.Rate.Remaining == 0 {
		if wait := time.Until(resp.Rate.Reset.Time); wait > 0 {
			hint.RetryAfter = wait
		}
	}
	return hint
}

func classifyGitHub(resp *github.Response, err error, op string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		fe := newError(KindRateLimited, op, err)
		if wait := time.Until(rateErr.Rate.Reset.Time); wait > 0 {
			fe.RetryAfter = wait
		}
		return fe
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		fe := newError(KindRateLimited, op, err)
		if abuseErr.RetryAfter != nil {
			fe.RetryAfter = *abuseErr.RetryAfter
		}
		return fe
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(KindAuth, op, err)
		case http.StatusNotFound:
			return newError(KindNotFound, op, err)
		case http.StatusTooManyRequests:
			return newError(KindRateLimited, op, err)
		}
	}
	return newError(KindTransient, op, err)
}

package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

type gitlabClient struct {
	client    *gitlab.Client
	projectID string
}

func newGitLabClient(opts ConnectOptions) (*gitlabClient, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("gitlab connection requires owner and repository name")
	}
	parsed, err := url.Parse(opts.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("parse gitlab url %q: %w", opts.URL, err)
	}
	baseURL := parsed.Scheme + "://" + parsed.Host + "/api/v4"

	// The pipeline owns retry policy; the client must not retry underneath it.
	client, err := gitlab.NewClient(opts.Token,
		gitlab.WithBaseURL(baseURL),
		gitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &gitlabClient{
		client:    client,
		projectID: opts.Owner + "/" + opts.Repo,
	}, nil
}

func (g *gitlabClient) TestConnection(ctx context.Context) (RepoInfo, error) {
	project, resp, err := g.client.Projects.GetProject(g.projectID, nil, gitlab.WithContext(ctx))
	if err != nil {
		return RepoInfo{}, classifyGitLab(resp, err, "get project")
	}
	return RepoInfo{
		Name:          project.Name,
		DefaultBranch: project.DefaultBranch,
		Private:       project.Visibility == gitlab.PrivateVisibility,
	}, nil
}

func (g *gitlabClient) ListBranches(ctx context.Context) ([]Branch, error) {
	branches := make([]Branch, 0)
	opts := &gitlab.ListBranchesOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		page, resp, err := g.client.Branches.ListBranches(g.projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLab(resp, err, "list branches")
		}
		for _, branch := range page {
			item := Branch{Name: branch.Name}
			if branch.Commit != nil {
				item.HeadHash = branch.Commit.ID
			}
			branches = append(branches, item)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return branches, nil
}

func (g *gitlabClient) ListCommits(ctx context.Context, opts ListOptions) (CommitPage, error) {
	listOpts := &gitlab.ListCommitsOptions{
		ListOptions: gitlab.ListOptions{Page: opts.Page, PerPage: opts.PerPage},
		WithStats:   gitlab.Ptr(true),
	}
	if opts.Branch != "" {
		listOpts.RefName = gitlab.Ptr(opts.Branch)
	}
	if !opts.Since.IsZero() {
		listOpts.Since = gitlab.Ptr(opts.Since)
	}
	if !opts.Until.IsZero() {
		listOpts.Until = gitlab.Ptr(opts.Until)
	}

	commits, resp, err := g.client.Commits.ListCommits(g.projectID, listOpts, gitlab.WithContext(ctx))
	if err != nil {
		return CommitPage{}, classifyGitLab(resp, err, "list commits")
	}

	page := CommitPage{
		Commits:   make([]Commit, 0, len(commits)),
		NextPage:  resp.NextPage,
		RateLimit: gitlabRateHint(resp),
	}
	for _, item := range commits {
		commit := Commit{
			Hash:        item.ID,
			AuthorName:  item.AuthorName,
			AuthorEmail: item.AuthorEmail,
			Message:     item.Message,
		}
		if item.CommittedDate != nil {
			commit.CommittedAt = *item.CommittedDate
		}
		if item.Stats != nil {
			commit.Additions = item.Stats.Additions
			commit.Deletions = item.Stats.Deletions
		}
		page.Commits = append(page.Commits, commit)
	}
	return page, nil
}

func gitlabRateHint(resp *gitlab.Response) *RateLimitHint {
	if resp == nil || resp.Response == nil {
		return nil
	}
	remaining, err := strconv.Atoi(resp.Header.Get("RateLimit-Remaining"))
	if err != nil {
		return nil
	}
	hint := &RateLimitHint{Remaining: remaining}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		hint.RetryAfter = time.Duration(seconds) * time.Second
	}
	return hint
}

func classifyGitLab(resp *gitlab.Response, err error, op string) error {
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(KindAuth, op, err)
		case http.StatusNotFound:
			return newError(KindNotFound, op, err)
		case http.StatusTooManyRequests:
			fe := newError(KindRateLimited, op, err)
			if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
				fe.RetryAfter = time.Duration(seconds) * time.Second
			}
			return fe
		}
	}
	return newError(KindTransient, op, err)
}

// Package forge adapts heterogeneous commit-hosting APIs (GitHub, GitLab,
// local on-disk repositories) to one client interface with a closed set of
// typed failure kinds.
package forge

import (
	"context"
	"fmt"
	"time"
)

type RepoInfo struct {
	Name          string
	DefaultBranch string
	Private       bool
}

type Branch struct {
	Name     string
	HeadHash string
}

type Commit struct {
	Hash         string
	AuthorName   string
	AuthorEmail  string
	CommittedAt  time.Time
	Message      string
	FilesChanged int
	Additions    int
	Deletions    int
}

// RateLimitHint carries an upstream backoff signal. RetryAfter is zero when
// the platform gave no explicit hint.
type RateLimitHint struct {
	Remaining  int
	RetryAfter time.Duration
}

type ListOptions struct {
	Branch  string
	Since   time.Time
	Until   time.Time
	Page    int
	PerPage int
}

// CommitPage is one page of upstream history. NextPage is 0 when there are
// no further pages.
type CommitPage struct {
	Commits   []Commit
	NextPage  int
	RateLimit *RateLimitHint
}

type Client interface {
	TestConnection(ctx context.Context) (RepoInfo, error)
	ListBranches(ctx context.Context) ([]Branch, error)
	ListCommits(ctx context.Context, opts ListOptions) (CommitPage, error)
}

type ConnectOptions struct {
	Platform string
	URL      string
	Owner    string
	Repo     string
	Token    string
	// BaseDir roots relative paths for the local platform.
	BaseDir string
}

// Dial returns the adapter for the connection's platform.
func Dial(opts ConnectOptions) (Client, error) {
	switch opts.Platform {
	case "github":
		return newGitHubClient(opts)
	case "gitlab":
		return newGitLabClient(opts)
	case "local":
		return newLocalClient(opts)
	default:
		return nil, fmt.Errorf("unsupported platform %q", opts.Platform)
	}
}

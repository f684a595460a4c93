package forge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// localClient reads commit history straight from an on-disk repository.
// It backs self-hosted setups without an API and hermetic tests.
type localClient struct {
	path string
}

func newLocalClient(opts ConnectOptions) (*localClient, error) {
	path := opts.URL
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.BaseDir, path)
	}
	return &localClient{path: path}, nil
}

func (l *localClient) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(l.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, newError(KindNotFound, "open repository "+l.path, err)
	}
	if errors.Is(err, os.ErrPermission) {
		return nil, newError(KindAuth, "open repository "+l.path, err)
	}
	if err != nil {
		return nil, newError(KindTransient, "open repository "+l.path, err)
	}
	return repo, nil
}

func (l *localClient) TestConnection(ctx context.Context) (RepoInfo, error) {
	repo, err := l.open()
	if err != nil {
		return RepoInfo{}, err
	}
	info := RepoInfo{Name: filepath.Base(l.path), DefaultBranch: "main", Private: true}
	head, err := repo.Head()
	if err == nil && head.Name().IsBranch() {
		info.DefaultBranch = head.Name().Short()
	}
	return info, nil
}

func (l *localClient) ListBranches(ctx context.Context) ([]Branch, error) {
	repo, err := l.open()
	if err != nil {
		return nil, err
	}
	iter, err := repo.Branches()
	if err != nil {
		return nil, newError(KindTransient, "list branches", err)
	}
	defer iter.Close()

	branches := make([]Branch, 0)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, Branch{
			Name:     ref.Name().Short(),
			HeadHash: ref.Hash().String(),
		})
		return nil
	})
	if err != nil {
		return nil, newError(KindTransient, "iterate branches", err)
	}
	return branches, nil
}

func (l *localClient) ListCommits(ctx context.Context, opts ListOptions) (CommitPage, error) {
	repo, err := l.open()
	if err != nil {
		return CommitPage{}, err
	}

	branch := opts.Branch
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			return CommitPage{}, newError(KindNotFound, "resolve head", err)
		}
		branch = head.Name().Short()
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return CommitPage{}, newError(KindNotFound, "resolve branch "+branch, err)
	}

	logOpts := &git.LogOptions{From: ref.Hash()}
	if !opts.Since.IsZero() {
		since := opts.Since
		logOpts.Since = &since
	}
	if !opts.Until.IsZero() {
		until := opts.Until
		logOpts.Until = &until
	}
	iter, err := repo.Log(logOpts)
	if err != nil {
		return CommitPage{}, newError(KindTransient, "read log", err)
	}
	defer iter.Close()

	all := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		all = append(all, toCommit(commitObj))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return CommitPage{}, err
		}
		return CommitPage{}, newError(KindTransient, "iterate log", err)
	}

	// The log has no server-side paging; emulate the page window so the
	// pipeline treats every platform the same way.
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	pageNum := opts.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	start := (pageNum - 1) * perPage
	if start >= len(all) {
		return CommitPage{Commits: []Commit{}}, nil
	}
	end := start + perPage
	nextPage := pageNum + 1
	if end >= len(all) {
		end = len(all)
		nextPage = 0
	}
	return CommitPage{Commits: all[start:end], NextPage: nextPage}, nil
}

func toCommit(commitObj *object.Commit) Commit {
	commit := Commit{
		Hash:        commitObj.Hash.String(),
		AuthorName:  commitObj.Author.Name,
		AuthorEmail: commitObj.Author.Email,
		CommittedAt: commitObj.Author.When,
		Message:     strings.TrimRight(commitObj.Message, "\n"),
	}
	if stats, err := commitObj.Stats(); err == nil {
		commit.FilesChanged = len(stats)
		for _, stat := range stats {
			commit.Additions += stat.Addition
			commit.Deletions += stat.Deletion
		}
	}
	return commit
}

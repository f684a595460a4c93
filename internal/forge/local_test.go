package forge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initFixtureRepo builds a repository with commits at hourly intervals,
// oldest first, and returns its path.
func initFixtureRepo(t *testing.T, messages []string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	worktree, err := repo.Worktree()
	require.NoError(t, err)

	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	for i, message := range messages {
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte(message+"\n"), 0o644))
		_, err = worktree.Add("notes.txt")
		require.NoError(t, err)
		_, err = worktree.Commit(message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "Jane Doe",
				Email: "jane@x.com",
				When:  base.Add(time.Duration(i) * time.Hour),
			},
		})
		require.NoError(t, err)
	}
	return dir
}

func TestLocalClientListCommits(t *testing.T) {
	dir := initFixtureRepo(t, []string{"feat: one", "fix: two", "docs: three"})
	client, err := newLocalClient(ConnectOptions{Platform: "local", URL: dir})
	require.NoError(t, err)

	page, err := client.ListCommits(context.Background(), ListOptions{PerPage: 10})
	require.NoError(t, err)
	require.Len(t, page.Commits, 3)
	assert.Equal(t, 0, page.NextPage)

	// Log order is newest first.
	assert.Equal(t, "docs: three", page.Commits[0].Message)
	assert.Equal(t, "feat: one", page.Commits[2].Message)
	assert.Equal(t, "Jane Doe", page.Commits[0].AuthorName)
	assert.Equal(t, "jane@x.com", page.Commits[0].AuthorEmail)
	assert.Len(t, page.Commits[0].Hash, 40)
	assert.Equal(t, 1, page.Commits[0].FilesChanged)
}

func TestLocalClientPagination(t *testing.T) {
	dir := initFixtureRepo(t, []string{"one", "two", "three", "four", "five"})
	client, err := newLocalClient(ConnectOptions{Platform: "local", URL: dir})
	require.NoError(t, err)

	first, err := client.ListCommits(context.Background(), ListOptions{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, first.Commits, 2)
	assert.Equal(t, 2, first.NextPage)

	second, err := client.ListCommits(context.Background(), ListOptions{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, second.Commits, 2)
	assert.Equal(t, 3, second.NextPage)

	last, err := client.ListCommits(context.Background(), ListOptions{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, last.Commits, 1)
	assert.Equal(t, 0, last.NextPage)

	beyond, err := client.ListCommits(context.Background(), ListOptions{Page: 4, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, beyond.Commits)
	assert.Equal(t, 0, beyond.NextPage)
}

func TestLocalClientSinceFilter(t *testing.T) {
	dir := initFixtureRepo(t, []string{"one", "two", "three"})
	client, err := newLocalClient(ConnectOptions{Platform: "local", URL: dir})
	require.NoError(t, err)

	// Commits are at 10:00, 11:00 and 12:00; cut between the first two.
	since := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC)
	page, err := client.ListCommits(context.Background(), ListOptions{Since: since, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, page.Commits, 2)
	assert.Equal(t, "three", page.Commits[0].Message)
	assert.Equal(t, "two", page.Commits[1].Message)
}

func TestLocalClientTestConnection(t *testing.T) {
	dir := initFixtureRepo(t, []string{"one"})
	client, err := newLocalClient(ConnectOptions{Platform: "local", URL: dir})
	require.NoError(t, err)

	info, err := client.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), info.Name)
	assert.NotEmpty(t, info.DefaultBranch)
}

func TestLocalClientMissingRepo(t *testing.T) {
	client, err := newLocalClient(ConnectOptions{Platform: "local", URL: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)

	_, err = client.TestConnection(context.Background())
	assert.True(t, IsNotFound(err))

	_, err = client.ListCommits(context.Background(), ListOptions{})
	assert.True(t, IsNotFound(err))
}

func TestLocalClientRelativePath(t *testing.T) {
	dir := initFixtureRepo(t, []string{"one"})
	client, err := newLocalClient(ConnectOptions{
		Platform: "local",
		URL:      filepath.Base(dir),
		BaseDir:  filepath.Dir(dir),
	})
	require.NoError(t, err)

	branches, err := client.ListBranches(context.Background())
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Len(t, branches[0].HeadHash, 40)
}

func TestDialUnknownPlatform(t *testing.T) {
	_, err := Dial(ConnectOptions{Platform: "svn"})
	assert.Error(t, err)
}

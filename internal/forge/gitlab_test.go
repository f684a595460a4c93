package forge

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

func gitlabResponse(status int, header http.Header) *gitlab.Response {
	if header == nil {
		header = http.Header{}
	}
	return &gitlab.Response{Response: &http.Response{StatusCode: status, Header: header}}
}

func TestClassifyGitLabStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		pred   func(error) bool
	}{
		{http.StatusUnauthorized, IsAuth},
		{http.StatusForbidden, IsAuth},
		{http.StatusNotFound, IsNotFound},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusBadGateway, IsTransient},
		{http.StatusServiceUnavailable, IsTransient},
	}
	for _, tc := range cases {
		err := classifyGitLab(gitlabResponse(tc.status, nil), errors.New("boom"), "list commits")
		assert.True(t, tc.pred(err), "status %d", tc.status)
	}
}

func TestClassifyGitLabNilResponse(t *testing.T) {
	err := classifyGitLab(nil, errors.New("dial tcp: connection refused"), "list commits")
	assert.True(t, IsTransient(err))
}

func TestClassifyGitLabRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "42")

	err := classifyGitLab(gitlabResponse(http.StatusTooManyRequests, header), errors.New("throttled"), "list commits")
	require.True(t, IsRateLimited(err))
	assert.Equal(t, 42*time.Second, RetryAfter(err))
}

func TestGitLabRateHint(t *testing.T) {
	header := http.Header{}
	header.Set("RateLimit-Remaining", "17")
	header.Set("Retry-After", "3")

	hint := gitlabRateHint(gitlabResponse(http.StatusOK, header))
	require.NotNil(t, hint)
	assert.Equal(t, 17, hint.Remaining)
	assert.Equal(t, 3*time.Second, hint.RetryAfter)

	// No rate headers means no hint, not a zero hint.
	assert.Nil(t, gitlabRateHint(gitlabResponse(http.StatusOK, nil)))
	assert.Nil(t, gitlabRateHint(nil))
}

func TestNewGitLabClientValidation(t *testing.T) {
	_, err := newGitLabClient(ConnectOptions{Platform: "gitlab", Owner: "acme", URL: "https://gitlab.example.com"})
	assert.Error(t, err)

	_, err = newGitLabClient(ConnectOptions{Platform: "gitlab", Owner: "acme", Repo: "widgets", URL: "not a url"})
	assert.Error(t, err)

	client, err := newGitLabClient(ConnectOptions{Platform: "gitlab", Owner: "acme", Repo: "widgets", URL: "https://gitlab.example.com/acme/widgets"})
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", client.projectID)
}

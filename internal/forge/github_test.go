package forge

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func githubResponse(status int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: status}}
}

func TestClassifyGitHubStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		pred   func(error) bool
	}{
		{http.StatusUnauthorized, IsAuth},
		{http.StatusForbidden, IsAuth},
		{http.StatusNotFound, IsNotFound},
		{http.StatusTooManyRequests, IsRateLimited},
		{http.StatusBadGateway, IsTransient},
		{http.StatusInternalServerError, IsTransient},
	}
	for _, tc := range cases {
		err := classifyGitHub(githubResponse(tc.status), errors.New("boom"), "list commits")
		assert.True(t, tc.pred(err), "status %d", tc.status)
	}
}

func TestClassifyGitHubNilResponse(t *testing.T) {
	err := classifyGitHub(nil, errors.New("dial tcp: connection refused"), "list commits")
	assert.True(t, IsTransient(err))
}

func TestClassifyGitHubRateLimit(t *testing.T) {
	reset := time.Now().Add(90 * time.Second)
	rateErr := &github.RateLimitError{Rate: github.Rate{Reset: github.Timestamp{Time: reset}}}

	err := classifyGitHub(githubResponse(http.StatusForbidden), rateErr, "list commits")
	require.True(t, IsRateLimited(err))
	// The reset hint survives classification, give or take scheduling.
	assert.InDelta(t, 90, RetryAfter(err).Seconds(), 5)
}

func TestClassifyGitHubAbuseRateLimit(t *testing.T) {
	retryAfter := 30 * time.Second
	abuseErr := &github.AbuseRateLimitError{RetryAfter: &retryAfter}

	err := classifyGitHub(githubResponse(http.StatusForbidden), abuseErr, "list commits")
	require.True(t, IsRateLimited(err))
	assert.Equal(t, retryAfter, RetryAfter(err))
}

func TestGitHubRateHint(t *testing.T) {
	resp := githubResponse(http.StatusOK)
	resp.Rate = github.Rate{Remaining: 12}
	hint := githubRateHint(resp)
	require.NotNil(t, hint)
	assert.Equal(t, 12, hint.Remaining)
	assert.Equal(t, time.Duration(0), hint.RetryAfter)

	assert.Nil(t, githubRateHint(nil))
}

func TestNewGitHubClientValidation(t *testing.T) {
	_, err := newGitHubClient(ConnectOptions{Platform: "github", Owner: "acme"})
	assert.Error(t, err)

	client, err := newGitHubClient(ConnectOptions{Platform: "github", Owner: "acme", Repo: "widgets"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

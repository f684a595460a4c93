package timesheet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProviderListEntries(t *testing.T) {
	var gotPath, gotAuth string
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[
			{"id":"ts_1","date":"2026-03-10T00:00:00Z","hours":4,"description":"login fixes","project":"core","user_name":"Jane Doe","user_email":"jane@x.com"}
		]}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "secret")
	from := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	entries, err := provider.ListEntries(context.Background(), Filter{
		From:      from,
		Project:   "core",
		UserEmail: "jane@x.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "/entries", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, []string{"2026-03-09T00:00:00Z"}, gotQuery["from"])
	assert.Equal(t, []string{"core"}, gotQuery["project"])

	require.Len(t, entries, 1)
	assert.Equal(t, "ts_1", entries[0].ID)
	assert.Equal(t, 4.0, entries[0].Hours)
	assert.Equal(t, "jane@x.com", entries[0].UserEmail)
}

func TestHTTPProviderGetEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ts_1,ts_2", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"entries":[{"id":"ts_1"},{"id":"ts_2"}]}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	entries, err := provider.GetEntries(context.Background(), []string{"ts_1", "ts_2"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHTTPProviderGetEntriesEmpty(t *testing.T) {
	provider := NewHTTPProvider("http://unreachable.invalid", "")
	entries, err := provider.GetEntries(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHTTPProviderUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "wrong")
	_, err := provider.ListEntries(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	_, err := provider.ListEntries(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPProviderNullEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entries":null}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "")
	entries, err := provider.ListEntries(context.Background(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

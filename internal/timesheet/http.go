package timesheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized means the configured timesheet token was rejected.
var ErrUnauthorized = errors.New("timesheet: unauthorized")

// HTTPProvider talks to the time tracking system's JSON API.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPProvider(baseURL, token string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProvider) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	query := url.Values{}
	if !filter.From.IsZero() {
		query.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		query.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	if filter.Project != "" {
		query.Set("project", filter.Project)
	}
	if filter.UserEmail != "" {
		query.Set("user_email", filter.UserEmail)
	}
	return p.fetch(ctx, "/entries", query)
}

func (p *HTTPProvider) GetEntries(ctx context.Context, entryIDs []string) ([]Entry, error) {
	if len(entryIDs) == 0 {
		return []Entry{}, nil
	}
	query := url.Values{}
	query.Set("ids", strings.Join(entryIDs, ","))
	return p.fetch(ctx, "/entries", query)
}

func (p *HTTPProvider) fetch(ctx context.Context, path string, query url.Values) ([]Entry, error) {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build timesheet request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query timesheet: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("timesheet responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode timesheet response: %w", err)
	}
	if payload.Entries == nil {
		payload.Entries = []Entry{}
	}
	return payload.Entries, nil
}

package timesheet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedProvider is a read-through cache in front of another Provider.
// Cache failures degrade to the wrapped provider: a dead Redis slows
// listings down, it never breaks them.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, log *logrus.Entry) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{inner: inner, client: client, ttl: ttl, log: log}
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (p *CachedProvider) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	key := filterKey(filter)

	cached, err := p.client.Get(ctx, key).Result()
	if err == nil {
		var entries []Entry
		if err := json.Unmarshal([]byte(cached), &entries); err == nil {
			return entries, nil
		}
		// Unreadable payload: fall through and refresh it.
	} else if !errors.Is(err, redis.Nil) {
		p.log.WithError(err).Warn("timesheet cache read failed")
	}

	entries, err := p.inner.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(entries)
	if err == nil {
		if err := p.client.Set(ctx, key, payload, p.ttl).Err(); err != nil {
			p.log.WithError(err).Warn("timesheet cache write failed")
		}
	}
	return entries, nil
}

// GetEntries is not cached: lookups by ID back the final mapping write and
// must see the provider's current state.
func (p *CachedProvider) GetEntries(ctx context.Context, entryIDs []string) ([]Entry, error) {
	return p.inner.GetEntries(ctx, entryIDs)
}

func filterKey(filter Filter) string {
	raw := strings.Join([]string{
		filter.From.UTC().Format(time.RFC3339),
		filter.To.UTC().Format(time.RFC3339),
		filter.Project,
		strings.ToLower(filter.UserEmail),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return "tsentries:" + hex.EncodeToString(sum[:])
}

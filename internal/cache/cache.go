// Package cache keeps generated SQL for repeated questions.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/suPer8Hu/nl2sql-platform/internal/store/redisstore"
)

type Entry struct {
	SQL         string   `json:"sql"`
	FallbackSQL string   `json:"fallback_sql,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Model       string   `json:"model"`
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, e Entry)
	// Clear removes every entry and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}

// Key normalizes case and whitespace so trivially different phrasings share an entry.
func Key(question string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

type Memory struct {
	c *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Memory{c: gocache.New(ttl, 2*ttl)}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

func (m *Memory) Set(ctx context.Context, key string, e Entry) {
	m.c.SetDefault(key, e)
}

func (m *Memory) Clear(ctx context.Context) (int, error) {
	n := m.c.ItemCount()
	m.c.Flush()
	return n, nil
}

const redisPrefix = "nl2sql:cache:"

type Redis struct {
	store *redisstore.Store
	ttl   time.Duration
}

func NewRedis(store *redisstore.Store, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Redis{store: store, ttl: ttl}
}

// Get treats redis errors as misses.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	b, ok, err := r.store.GetBytes(ctx, redisPrefix+key)
	if err != nil || !ok {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) Set(ctx context.Context, key string, e Entry) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = r.store.SetBytes(ctx, redisPrefix+key, b, r.ttl)
}

func (r *Redis) Clear(ctx context.Context) (int, error) {
	return r.store.DeletePrefix(ctx, redisPrefix)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
)

// EngineOptions is the chat engine configuration a session freezes at
// creation time.
type EngineOptions struct {
	SystemPrompt string            `json:"system_prompt,omitempty"`
	TopK         int               `json:"top_k"`
	SearchTopK   int               `json:"search_top_k,omitempty"`
	IndexName    string            `json:"index,omitempty"`
	Namespaces   []string          `json:"namespaces,omitempty"`
	Reranker     string            `json:"reranker,omitempty"`
	Graph        retrieval.Options `json:"graph"`
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.IndexName == "" {
		o.IndexName = "default"
	}
	return o
}

// EngineOptionsLoader resolves the current configuration of one engine from
// its source of truth.
type EngineOptionsLoader func(ctx context.Context, engine string) (EngineOptions, error)

// EngineOptionsCache is an explicit read-through cache over engine
// configuration: redis when available, an in-process map otherwise, with
// invalidation on write. Sessions snapshot the resolved value, so a stale
// read here only affects which snapshot a brand-new session gets.
type EngineOptionsCache struct {
	log    *logger.Logger
	rdb    *redis.Client
	loader EngineOptionsLoader
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]localEntry
}

type localEntry struct {
	opts    EngineOptions
	expires time.Time
}

func NewEngineOptionsCache(baseLog *logger.Logger, rdb *redis.Client, loader EngineOptionsLoader, ttl time.Duration) (*EngineOptionsCache, error) {
	if loader == nil {
		return nil, fmt.Errorf("engine options loader required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EngineOptionsCache{
		log:    baseLog.With("service", "EngineOptionsCache"),
		rdb:    rdb,
		loader: loader,
		ttl:    ttl,
		local:  make(map[string]localEntry),
	}, nil
}

func engineOptionsKey(engine string) string {
	return "prplx:engine_options:" + engine
}

func (c *EngineOptionsCache) Get(ctx context.Context, engine string) (EngineOptions, error) {
	if engine == "" {
		engine = "default"
	}

	c.mu.RLock()
	entry, ok := c.local[engine]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.opts, nil
	}

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, engineOptionsKey(engine)).Bytes()
		if err == nil {
			var opts EngineOptions
			if jerr := json.Unmarshal(raw, &opts); jerr == nil {
				c.store(engine, opts)
				return opts, nil
			}
		} else if err != redis.Nil {
			c.log.Warn("engine options cache read failed", "engine", engine, "error", err)
		}
	}

	opts, err := c.loader(ctx, engine)
	if err != nil {
		return EngineOptions{}, fmt.Errorf("load engine options for %q: %w", engine, err)
	}
	opts = opts.withDefaults()

	if c.rdb != nil {
		if raw, jerr := json.Marshal(opts); jerr == nil {
			if serr := c.rdb.Set(ctx, engineOptionsKey(engine), raw, c.ttl).Err(); serr != nil {
				c.log.Warn("engine options cache write failed", "engine", engine, "error", serr)
			}
		}
	}
	c.store(engine, opts)
	return opts, nil
}

// Invalidate drops the cached configuration after an engine write so the
// next session creation re-reads the source of truth.
func (c *EngineOptionsCache) Invalidate(ctx context.Context, engine string) {
	if engine == "" {
		engine = "default"
	}
	c.mu.Lock()
	delete(c.local, engine)
	c.mu.Unlock()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, engineOptionsKey(engine)).Err(); err != nil {
			c.log.Warn("engine options cache invalidate failed", "engine", engine, "error", err)
		}
	}
}

func (c *EngineOptionsCache) store(engine string, opts EngineOptions) {
	c.mu.Lock()
	c.local[engine] = localEntry{opts: opts, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mingainspire/prplx/internal/platform/logger"
)

func TestEngineOptionsCacheReadThrough(t *testing.T) {
	calls := 0
	loader := func(_ context.Context, engine string) (EngineOptions, error) {
		calls++
		if engine != "default" {
			t.Fatalf("loader got engine %q", engine)
		}
		return EngineOptions{TopK: 7, IndexName: "main"}, nil
	}
	cache, err := NewEngineOptionsCache(logger.NewNop(), nil, loader, time.Minute)
	if err != nil {
		t.Fatalf("NewEngineOptionsCache failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		opts, err := cache.Get(context.Background(), "")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if opts.TopK != 7 || opts.IndexName != "main" {
			t.Fatalf("opts = %+v", opts)
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}

	cache.Invalidate(context.Background(), "default")
	if _, err := cache.Get(context.Background(), "default"); err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("loader called %d times after invalidate, want 2", calls)
	}
}

func TestEngineOptionsCacheAppliesDefaults(t *testing.T) {
	loader := func(context.Context, string) (EngineOptions, error) {
		return EngineOptions{}, nil
	}
	cache, err := NewEngineOptionsCache(logger.NewNop(), nil, loader, time.Minute)
	if err != nil {
		t.Fatalf("NewEngineOptionsCache failed: %v", err)
	}
	opts, err := cache.Get(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if opts.TopK != 5 || opts.IndexName != "default" {
		t.Fatalf("defaults not applied: %+v", opts)
	}
}

func TestEngineOptionsCacheSurfacesLoaderError(t *testing.T) {
	loader := func(context.Context, string) (EngineOptions, error) {
		return EngineOptions{}, errors.New("config store down")
	}
	cache, err := NewEngineOptionsCache(logger.NewNop(), nil, loader, time.Minute)
	if err != nil {
		t.Fatalf("NewEngineOptionsCache failed: %v", err)
	}
	if _, err := cache.Get(context.Background(), "default"); err == nil {
		t.Fatal("expected loader error to surface")
	}
}

func TestNewEngineOptionsCacheRequiresLoader(t *testing.T) {
	if _, err := NewEngineOptionsCache(logger.NewNop(), nil, nil, time.Minute); err == nil {
		t.Fatal("expected error for nil loader")
	}
}

package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestInMemoryCache_SetAndGet(t *testing.T) {
	cache := NewInMemoryCache(1 * time.Second, nil)
	ctx := context.Background()
	key := "foo"
	value := "bar"

	err := cache.Set(ctx, key, value)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != value {
		t.Errorf("expected %v, got %v", value, got)
	}
}

func TestInMemoryCache_Expiration(t *testing.T) {
	cache := NewInMemoryCache(50 * time.Millisecond, nil)
	ctx := context.Background()
	key := "baz"
	value := "qux"

	err := cache.Set(ctx, key, value)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	_, err = cache.Get(ctx, key)
	if err == nil {
		t.Errorf("expected error for expired item, got nil")
	}
}

func TestInMemoryCache_Concurrency(t *testing.T) {
	cache := NewInMemoryCache(1 * time.Second, nil)
	ctx := context.Background()
	key := "concurrent"
	value := "val"
	setErr := make(chan error, 1)
	getErr := make(chan error, 1)

	go func() {
		setErr <- cache.Set(ctx, key, value)
	}()
	go func() {
		_, err := cache.Get(ctx, key)
		getErr <- err
	}()

	if err := <-setErr; err != nil {
		t.Errorf("Set failed: %v", err)
	}
	if err := <-getErr; err != nil && !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected Get error: %v", err)
	}
}

func TestFilePersistentCache_SurvivesReload(t *testing.T) {
	path := t.TempDir() + "/results.json"

	first := NewFilePersistentCache(1*time.Hour, path, nil)
	ctx := context.Background()
	if err := first.Set(ctx, "sharpe_ratio|ticker=AAPL", map[string]interface{}{"value": 1.2}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := NewFilePersistentCache(1*time.Hour, path, nil)
	got, err := second.Get(ctx, "sharpe_ratio|ticker=AAPL")
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map value, got %T", got)
	}
	if m["value"] != 1.2 {
		t.Errorf("expected 1.2, got %v", m["value"])
	}
}

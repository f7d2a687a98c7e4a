package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/pario-ai/sendchat/pkg/cache"
	"github.com/pario-ai/sendchat/pkg/models"
)

var _ cache.Cache = (*Cache)(nil)

func TestPutAndGet(t *testing.T) {
	c := New()
	ctx := context.Background()
	resp := &models.CompletionResponse{ID: "r1", Model: "m1"}

	if err := c.Put(ctx, "k1", resp); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != resp {
		t.Error("expected the stored response to be returned as-is")
	}

	if _, ok, _ := c.Get(ctx, "k2"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestStatsAndClear(t *testing.T) {
	c := New()
	ctx := context.Background()

	_ = c.Put(ctx, "k1", &models.CompletionResponse{})
	c.Get(ctx, "k1") // hit
	c.Get(ctx, "k2") // miss

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected 0 entries after clear, got %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%5))
			_ = c.Put(ctx, key, &models.CompletionResponse{})
			c.Get(ctx, key)
		}()
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("expected 5 entries, got %d", c.Len())
	}
}

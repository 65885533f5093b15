package guildsync

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
)

func TestMappingCacheSetResolveEvict(t *testing.T) {
	cache := NewMappingCache()

	key := EntityKey(models.SyncEntityZone, 12)
	cache.Set(key, "vc-12", "chan-4", "voice-1")

	parent, ok := cache.Resolve("vc-12")
	if !ok || parent != "chan-4" {
		t.Fatalf("expected parent chan-4, got %q ok=%v", parent, ok)
	}
	child, ok := cache.ChildFor(key)
	if !ok || child != "vc-12" {
		t.Fatalf("expected reverse lookup vc-12, got %q ok=%v", child, ok)
	}

	evicted, ok := cache.Evict(key)
	if !ok || evicted != "vc-12" {
		t.Fatalf("expected to evict vc-12, got %q ok=%v", evicted, ok)
	}
	if _, ok := cache.Resolve("vc-12"); ok {
		t.Fatal("resolve must miss after evict")
	}
	if _, ok := cache.ChildFor(key); ok {
		t.Fatal("reverse lookup must miss after evict")
	}
}

func TestMappingCacheSetIsIdempotentOverwrite(t *testing.T) {
	cache := NewMappingCache()
	key := EntityKey(models.SyncEntityZone, 12)

	cache.Set(key, "vc-12", "chan-4", "voice-1")
	cache.Set(key, "vc-12", "chan-9", "voice-1 renamed")

	if cache.Len() != 1 {
		t.Fatalf("overwrite must not grow the cache, got %d", cache.Len())
	}
	parent, _ := cache.Resolve("vc-12")
	if parent != "chan-9" {
		t.Fatalf("latest write wins, got %q", parent)
	}
}

func TestMappingCacheMissIsNotAnError(t *testing.T) {
	cache := NewMappingCache()
	if _, ok := cache.Resolve("unknown"); ok {
		t.Fatal("unknown child must miss")
	}
	if _, ok := cache.Evict("category:99"); ok {
		t.Fatal("evicting an unknown entity must report a miss")
	}
}

func TestResolveOrLookupServesWarmEntriesWithoutFallback(t *testing.T) {
	cache := NewMappingCache()
	cache.Set(EntityKey(models.SyncEntityZone, 12), "vc-12", "chan-4", "voice-1")

	parent, ok, err := cache.ResolveOrLookup(context.Background(), "vc-12")
	if err != nil {
		t.Fatalf("warm lookup must not error: %v", err)
	}
	if !ok || parent != "chan-4" {
		t.Fatalf("expected parent chan-4, got %q ok=%v", parent, ok)
	}
}

func TestMappingCacheClear(t *testing.T) {
	cache := NewMappingCache()
	cache.Set(EntityKey(models.SyncEntityCategory, 1), "chan-1", "", "a")
	cache.Set(EntityKey(models.SyncEntityZone, 2), "vc-2", "chan-1", "b")

	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", cache.Len())
	}
	if _, ok := cache.ChildFor(EntityKey(models.SyncEntityZone, 2)); ok {
		t.Fatal("reverse index must be cleared too")
	}
}

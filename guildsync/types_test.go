package guildsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/guildsync_backend/models"
)

func TestChangeEventValidation(t *testing.T) {
	ok := ChangeEvent{EntityType: models.SyncEntityCategory, Operation: OpUpdate}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	bad := []ChangeEvent{
		{Operation: OpUpdate},
		{EntityType: models.SyncEntityCategory},
		{EntityType: "webhook", Operation: OpUpdate},
		{EntityType: models.SyncEntityCategory, Operation: "upsert"},
	}
	for i, ev := range bad {
		if err := ev.Validate(); err == nil {
			t.Fatalf("case %d: expected validation failure for %+v", i, ev)
		}
	}
}

func TestDecodeCategoryRowPartialPayloads(t *testing.T) {
	if _, ok := decodeCategoryRow(nil); ok {
		t.Fatal("empty payload must not decode")
	}
	if _, ok := decodeCategoryRow(json.RawMessage(`{"name":"x"}`)); ok {
		t.Fatal("payload without id must not decode")
	}

	row, ok := decodeCategoryRow(json.RawMessage(`{"id":5}`))
	if !ok {
		t.Fatal("key-only payload must decode")
	}
	if row.HasDiffFields() {
		t.Fatal("key-only payload must count as unknown prior state")
	}

	row, ok = decodeCategoryRow(json.RawMessage(`{"id":5,"name":"a","is_visible":true,"allowed_role_ids":[]}`))
	if !ok || !row.HasDiffFields() {
		t.Fatalf("full payload must carry diff fields, got %+v ok=%v", row, ok)
	}
}

func TestEngineSkipsUnusableEvents(t *testing.T) {
	engine := &Engine{GuildId: "g1", entityMu: map[string]*sync.Mutex{}}

	// Malformed events are acked, never retried.
	if err := engine.HandleChangeEvent(context.Background(), ChangeEvent{}); err != nil {
		t.Fatalf("malformed event must be dropped without error, got %v", err)
	}

	// Events for a different guild are ignored before any store access.
	ev := ChangeEvent{EntityType: models.SyncEntityCategory, Operation: OpUpdate, GuildId: "other"}
	if err := engine.HandleChangeEvent(context.Background(), ev); err != nil {
		t.Fatalf("foreign-guild event must be dropped without error, got %v", err)
	}
}

func TestEntityKey(t *testing.T) {
	if got := EntityKey(models.SyncEntityZone, 12); got != "zone:12" {
		t.Fatalf("unexpected key %q", got)
	}
}

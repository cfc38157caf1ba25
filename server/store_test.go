package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRunStore_CreateGetUpdate(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	rec := RunRecord{
		ID:         "run-1",
		Status:     RunStatusRunning,
		Trigger:    TriggerAPI,
		EmailCount: 10,
		StartedAt:  time.Now().UTC(),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrRunExists) {
		t.Fatalf("duplicate Create() error = %v, want %v", err, ErrRunExists)
	}

	got, found, err := store.Get(ctx, "run-1")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, %v", got, found, err)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("status = %q", got.Status)
	}

	finished := time.Now().UTC()
	rec.Status = RunStatusCompleted
	rec.Digest = "# Newsletter Digest"
	rec.FinishedAt = &finished
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _, _ = store.Get(ctx, "run-1")
	if got.Status != RunStatusCompleted || got.Digest != "# Newsletter Digest" {
		t.Errorf("updated record = %+v", got)
	}

	if err := store.Update(ctx, RunRecord{ID: "missing"}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Update() missing error = %v, want %v", err, ErrRunNotFound)
	}
}

func TestMemoryRunStore_ListNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := RunRecord{
			ID:        id,
			Status:    RunStatusCompleted,
			Trigger:   TriggerAPI,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%q) error = %v", id, err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("List() order = %s, %s, want newest first", records[0].ID, records[1].ID)
	}
}

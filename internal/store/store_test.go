// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/genscene/genscene/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "genscene.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestUpsertJobPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := job.Payload{"user_id": "u1", "prompt": "a castle"}
	if err := s.UpsertJob(ctx, "qc-abc", job.StateQueued, 0, job.TypeQuickCreate, payload); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := s.GetJob(ctx, "qc-abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first == nil {
		t.Fatal("expected row after insert")
	}

	if err := s.UpsertJob(ctx, "qc-abc", job.StateProcessing, 50, job.TypeQuickCreate, payload); err != nil {
		t.Fatalf("update: %v", err)
	}

	second, err := s.GetJob(ctx, "qc-abc")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if second.State != job.StateProcessing {
		t.Fatalf("state = %q, want processing", second.State)
	}
	if second.Progress != 50 {
		t.Fatalf("progress = %d, want 50", second.Progress)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestGetJobMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetJob(context.Background(), "qc-missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := job.Payload{
		"user_id":      "u9",
		"credits_cost": int64(200),
		"request": map[string]any{
			"idea":  "neon jungle",
			"style": "fantasy_epic",
		},
	}
	if err := s.UpsertJob(ctx, "qcf-xyz", job.StateQueued, 0, job.TypeFullUniverse, payload); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec, err := s.GetJob(ctx, "qcf-xyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Payload.UserID() != "u9" {
		t.Fatalf("user_id = %q, want u9", rec.Payload.UserID())
	}
	if rec.Payload.CreditsCost() != 200 {
		t.Fatalf("credits_cost = %d, want 200", rec.Payload.CreditsCost())
	}
	req := rec.Payload.Request()
	if req["idea"] != "neon jungle" {
		t.Fatalf("request idea = %v", req["idea"])
	}
}

func TestListJobsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, row := range []struct {
		id    string
		state job.State
	}{
		{"qc-1", job.StateDone},
		{"qc-2", job.StateQueued},
		{"qc-3", job.StateError},
		{"qc-4", job.StateQueued},
	} {
		if err := s.UpsertJob(ctx, row.id, row.state, 0, job.TypeQuickCreate, job.Payload{}); err != nil {
			t.Fatalf("insert %s: %v", row.id, err)
		}
	}

	queued, err := s.ListJobs(ctx, JobFilter{States: []job.State{job.StateQueued}})
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("queued count = %d, want 2", len(queued))
	}
	// Same created_at second; the rowid tiebreak keeps newest insert first.
	if queued[0].ID != "qc-4" || queued[1].ID != "qc-2" {
		t.Fatalf("unexpected order: %s, %s", queued[0].ID, queued[1].ID)
	}

	all, err := s.ListJobs(ctx, JobFilter{Limit: 3})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("limited count = %d, want 3", len(all))
	}
}

func TestDeleteJobCascadesRenders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertJob(ctx, "qcf-del", job.StateDone, 100, job.TypeFullUniverse, job.Payload{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertRender(ctx, Render{JobID: "qcf-del", ItemID: "concept", Status: RenderCompleted}); err != nil {
		t.Fatalf("render: %v", err)
	}

	deleted, err := s.DeleteJob(ctx, "qcf-del")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report the row existed")
	}

	renders, err := s.ListRenders(ctx, "qcf-del")
	if err != nil {
		t.Fatalf("list renders: %v", err)
	}
	if len(renders) != 0 {
		t.Fatalf("renders not cascaded: %d left", len(renders))
	}

	deleted, err = s.DeleteJob(ctx, "qcf-del")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("second delete should report missing")
	}
}

func TestRecoverUnfinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	states := map[string]job.State{
		"qc-a": job.StateQueued,
		"qc-b": job.StateProcessing,
		"qc-c": job.StateDone,
		"qc-d": job.StateError,
		"qc-e": job.StateCancelled,
	}
	for id, st := range states {
		if err := s.UpsertJob(ctx, id, st, 0, job.TypeQuickCreate, job.Payload{}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	recs, err := s.RecoverUnfinished(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("unfinished count = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.State != job.StateQueued && r.State != job.StateProcessing {
			t.Fatalf("unexpected state %q in recovery set", r.State)
		}
	}

	failures, err := s.ListTerminalFailures(ctx)
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("failure count = %d, want 2", len(failures))
	}
}

func TestStoreClosedRejectsCalls(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := s.UpsertJob(context.Background(), "qc-x", job.StateQueued, 0, job.TypeQuickCreate, nil); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.GetJob(context.Background(), "qc-x"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMigrateUpgradesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Deployments predating the job_type and payload columns.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	legacy := `
	CREATE TABLE jobs (
		job_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	INSERT INTO jobs (job_id, state, progress, created_at)
	VALUES ('qc-old', 'done', 100, 1700000000);
	`
	if _, err := raw.Exec(legacy); err != nil {
		t.Fatalf("seed legacy schema: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("open store over legacy db: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	rec, err := s.GetJob(context.Background(), "qc-old")
	if err != nil {
		t.Fatalf("get legacy row: %v", err)
	}
	if rec == nil {
		t.Fatal("legacy row lost during migration")
	}
	if rec.Type != job.TypeUnknown {
		t.Fatalf("job_type backfill = %q, want %q", rec.Type, job.TypeUnknown)
	}
	if len(rec.Payload) != 0 {
		t.Fatalf("payload backfill = %v, want empty", rec.Payload)
	}

	if err := s.UpsertJob(context.Background(), "qc-old", job.StateDone, 100, job.TypeQuickCreate, job.Payload{"user_id": "u1"}); err != nil {
		t.Fatalf("upsert after upgrade: %v", err)
	}
	rec, err = s.GetJob(context.Background(), "qc-old")
	if err != nil {
		t.Fatalf("reread upgraded row: %v", err)
	}
	if rec.Type != job.TypeQuickCreate || rec.Payload.UserID() != "u1" {
		t.Fatalf("upgraded row not updated: type=%q payload=%v", rec.Type, rec.Payload)
	}
}

func TestRenderUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertRender(ctx, Render{JobID: "qcf-1", ItemID: "video", URL: "/files/qcf-1/video.mp4"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertRender(ctx, Render{
		JobID: "qcf-1", ItemID: "video", URL: "/files/qcf-1/video.mp4", Status: RenderCompleted, Quality: "high",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	renders, err := s.ListRenders(ctx, "qcf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(renders) != 1 {
		t.Fatalf("count = %d, want 1 (upsert should not duplicate)", len(renders))
	}
	if renders[0].Status != RenderCompleted || renders[0].Quality != "high" {
		t.Fatalf("row not updated: %+v", renders[0])
	}
}

func TestAssetLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := Asset{Hash: "h1", URL: "https://cdn.example.com/track.mp3", Size: 1024, ContentType: "audio/mpeg"}
	if err := s.PutAsset(ctx, a, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.LookupAsset(ctx, "h1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached asset")
	}
	if got.AccessCount != 1 {
		t.Fatalf("access_count = %d, want 1", got.AccessCount)
	}

	got, err = s.LookupAsset(ctx, "h1")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if got.AccessCount != 2 {
		t.Fatalf("access_count = %d, want 2", got.AccessCount)
	}

	if _, err := s.LookupAsset(ctx, "h-missing"); err != nil {
		t.Fatalf("missing lookup should be nil error: %v", err)
	}
}

func TestAssetExpiryAndEviction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutAsset(ctx, Asset{Hash: "old", URL: "u", Size: 600}, -time.Minute); err != nil {
		t.Fatalf("put old: %v", err)
	}
	if err := s.PutAsset(ctx, Asset{Hash: "fresh", URL: "u", Size: 600}, time.Hour); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	got, err := s.LookupAsset(ctx, "old")
	if err != nil {
		t.Fatalf("lookup old: %v", err)
	}
	if got != nil {
		t.Fatal("expired asset should not be returned")
	}

	hashes, err := s.DeleteExpiredAssets(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != "old" {
		t.Fatalf("expired hashes = %v, want [old]", hashes)
	}

	if err := s.PutAsset(ctx, Asset{Hash: "big", URL: "u", Size: 900}, time.Hour); err != nil {
		t.Fatalf("put big: %v", err)
	}
	// fresh (600) + big (900) = 1500; evicting to 1000 drops the LRU row.
	if _, err := s.LookupAsset(ctx, "big"); err != nil {
		t.Fatalf("touch big: %v", err)
	}
	victims, err := s.EvictAssetsLRU(ctx, 1000)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if len(victims) != 1 || victims[0] != "fresh" {
		t.Fatalf("victims = %v, want [fresh]", victims)
	}

	total, err := s.TotalAssetBytes(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 900 {
		t.Fatalf("total = %d, want 900", total)
	}
}

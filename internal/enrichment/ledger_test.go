package enrichment_test

import (
	"context"
	"path/filepath"
	"testing"

	"bandaid/internal/enrichment"
	"bandaid/internal/identity"
)

func openLedger(t *testing.T) (*enrichment.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enrichment.db")
	ledger, err := enrichment.OpenLedger(path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger, path
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger, _ := openLedger(t)
	id := identity.NewID()

	if err := ledger.Enqueue(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ledger.Enqueue(ctx, id); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	stats, err := ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("stats = %+v, want exactly one pending run", stats)
	}
}

func TestNextPendingClaimsOldest(t *testing.T) {
	ctx := context.Background()
	ledger, _ := openLedger(t)
	first := identity.NewID()
	second := identity.NewID()

	if err := ledger.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ledger.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	run, ok, err := ledger.NextPending(ctx)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if run.Status != enrichment.RunRunning {
		t.Fatalf("claimed run status = %q", run.Status)
	}
	claimed := map[identity.ID]bool{run.PosterID: true}

	run2, ok, err := ledger.NextPending(ctx)
	if err != nil || !ok {
		t.Fatalf("second claim: ok=%v err=%v", ok, err)
	}
	claimed[run2.PosterID] = true
	if !claimed[first] || !claimed[second] {
		t.Fatalf("claims missed a run: %v", claimed)
	}

	if _, ok, err := ledger.NextPending(ctx); err != nil || ok {
		t.Fatalf("expected empty queue, ok=%v err=%v", ok, err)
	}
}

func TestResetInFlight(t *testing.T) {
	ctx := context.Background()
	ledger, _ := openLedger(t)
	id := identity.NewID()

	if err := ledger.Enqueue(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok, err := ledger.NextPending(ctx); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	reset, err := ledger.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d", reset)
	}
	run, ok, err := ledger.NextPending(ctx)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	if run.PosterID != id {
		t.Fatalf("reclaimed %v", run.PosterID)
	}
}

func TestRecordStepWritesOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _ := openLedger(t)
	runID := enrichment.RunID(identity.NewID())

	if err := ledger.RecordStep(ctx, runID, "fetch-band-names", `["A"]`); err != nil {
		t.Fatalf("record: %v", err)
	}
	// A replayed write must keep the first payload.
	if err := ledger.RecordStep(ctx, runID, "fetch-band-names", `["B"]`); err != nil {
		t.Fatalf("second record: %v", err)
	}

	payload, ok, err := ledger.StepResult(ctx, runID, "fetch-band-names")
	if err != nil || !ok {
		t.Fatalf("step result: ok=%v err=%v", ok, err)
	}
	if payload != `["A"]` {
		t.Fatalf("payload = %q", payload)
	}

	if _, ok, err := ledger.StepResult(ctx, runID, "missing"); err != nil || ok {
		t.Fatalf("missing step: ok=%v err=%v", ok, err)
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	ctx := context.Background()
	ledger, _ := openLedger(t)
	id := identity.NewID()

	if err := ledger.Enqueue(ctx, id); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ledger.MarkFailed(ctx, enrichment.RunID(id), "catalog unreachable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	run, ok, err := ledger.GetRun(ctx, enrichment.RunID(id))
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.Status != enrichment.RunFailed || run.ErrorMessage != "catalog unreachable" {
		t.Fatalf("run = %+v", run)
	}
}

func TestDoMemoizesAcrossReopen(t *testing.T) {
	ctx := context.Background()
	ledger, path := openLedger(t)
	runID := enrichment.RunID(identity.NewID())

	calls := 0
	fn := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"t1", "t2"}, nil
	}

	tracks, err := enrichment.Do(ctx, ledger, runID, "fetch-top-tracks:A", fn)
	if err != nil || len(tracks) != 2 {
		t.Fatalf("first do: %v %v", tracks, err)
	}
	if _, err := enrichment.Do(ctx, ledger, runID, "fetch-top-tracks:A", fn); err != nil {
		t.Fatalf("second do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn ran %d times", calls)
	}

	// A restarted engine sees the recorded result through a fresh handle.
	if err := ledger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := enrichment.OpenLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	tracks, err = enrichment.Do(ctx, reopened, runID, "fetch-top-tracks:A", fn)
	if err != nil {
		t.Fatalf("do after reopen: %v", err)
	}
	if calls != 1 || len(tracks) != 2 || tracks[0] != "t1" {
		t.Fatalf("memoization lost across reopen: calls=%d tracks=%v", calls, tracks)
	}
}

package results_test

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/saveenergy/connflurry/internal/logging"
	"github.com/saveenergy/connflurry/internal/results"
	"github.com/saveenergy/connflurry/pkg/types"
)

func openStore(t *testing.T, maxResults int) *results.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := results.Open(path, maxResults, logging.New(io.Discard, "results", logging.LevelInfo))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func report(id string, started time.Time) types.RunReport {
	return types.RunReport{
		RunID:       id,
		Status:      types.RunStatusCompleted,
		Target:      "10.0.0.5:80",
		Concurrency: 64,
		Total:       1000,
		Attempted:   1003,
		Established: 1000,
		Failed:      2,
		Reclaimed:   1,
		DurationMs:  850,
		PerSecond:   1176.47,
		ConnectLatency: types.LatencyMetrics{
			P50Ms: 0.4,
			P95Ms: 1.2,
			P99Ms: 3.5,
		},
		StartedAt: started,
		EndedAt:   started.Add(850 * time.Millisecond),
	}
}

func TestSaveAndGet(t *testing.T) {
	store := openStore(t, 0)
	started := time.Now().UTC().Truncate(time.Millisecond)

	id, err := store.Save(report("run-a", started))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id != "run-a" {
		t.Fatalf("id = %q, want run-a", id)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Established != 1000 || got.Attempted != 1003 || got.Reclaimed != 1 {
		t.Fatalf("counters = %+v", got)
	}
	if got.Status != types.RunStatusCompleted || got.Target != "10.0.0.5:80" {
		t.Fatalf("report = %+v", got)
	}
	if got.ConnectLatency.P99Ms != 3.5 {
		t.Fatalf("p99 = %v", got.ConnectLatency.P99Ms)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
	}
}

func TestSaveMintsID(t *testing.T) {
	store := openStore(t, 0)
	id, err := store.Save(report("", time.Now()))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(id) != 36 {
		t.Fatalf("id = %q, want a uuid", id)
	}
}

func TestSaveDuplicateID(t *testing.T) {
	store := openStore(t, 0)
	if _, err := store.Save(report("dup", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(report("dup", time.Now())); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestGetNotFound(t *testing.T) {
	store := openStore(t, 0)
	if _, err := store.Get("missing"); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirstAndTrim(t *testing.T) {
	store := openStore(t, 3)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if _, err := store.Save(report(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	runs, err := store.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3 after trim", len(runs))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if runs[i].RunID != want {
			t.Fatalf("runs[%d] = %s, want %s", i, runs[i].RunID, want)
		}
	}

	limited, err := store.List(1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1) = %d, %v", len(limited), err)
	}
}

func TestSaveDropsExpired(t *testing.T) {
	store := openStore(t, 0)
	if _, err := store.Save(report("ancient", time.Now().UTC().Add(-200*24*time.Hour))); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Get("ancient"); !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("expired run still present: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	store := openStore(t, 0)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

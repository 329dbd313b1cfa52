package mapping

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestTable(t *testing.T, path string) *Table {
	t.Helper()
	table, err := NewTable(NewStore(path))
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return table
}

func TestResolveOrCreateNewThread(t *testing.T) {
	table := newTestTable(t, filepath.Join(t.TempDir(), "mapping.json"))

	jobID, err := table.ResolveOrCreate("1700000000.000100", func() (string, error) {
		return "jobid_new", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if jobID != "jobid_new" {
		t.Errorf("expected jobid_new, got %s", jobID)
	}
	if got, ok := table.Get("1700000000.000100"); !ok || got != "jobid_new" {
		t.Errorf("mapping not stored: %s %v", got, ok)
	}
}

func TestResolveOrCreateReusesExisting(t *testing.T) {
	table := newTestTable(t, filepath.Join(t.TempDir(), "mapping.json"))

	first, err := table.ResolveOrCreate("thread-1", func() (string, error) {
		return "jobid_first", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	second, err := table.ResolveOrCreate("thread-1", func() (string, error) {
		t.Error("create should not run for a mapped thread")
		return "jobid_second", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second {
		t.Errorf("same thread resolved to different jobs: %s vs %s", first, second)
	}
}

func TestResolveOrCreateCreateFailure(t *testing.T) {
	table := newTestTable(t, filepath.Join(t.TempDir(), "mapping.json"))

	wantErr := errors.New("node down")
	_, err := table.ResolveOrCreate("thread-1", func() (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped create error, got %v", err)
	}

	// A failed create leaves the thread unmapped so a retry can succeed.
	if _, ok := table.Get("thread-1"); ok {
		t.Error("failed create should not map the thread")
	}

	jobID, err := table.ResolveOrCreate("thread-1", func() (string, error) {
		return "jobid_retry", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if jobID != "jobid_retry" {
		t.Errorf("expected jobid_retry, got %s", jobID)
	}
}

func TestResolveOrCreateConcurrentSingleCreate(t *testing.T) {
	table := newTestTable(t, filepath.Join(t.TempDir(), "mapping.json"))

	var creates atomic.Int32
	var wg sync.WaitGroup
	results := make([]string, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobID, err := table.ResolveOrCreate("thread-hot", func() (string, error) {
				n := creates.Add(1)
				return fmt.Sprintf("jobid_%d", n), nil
			})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results[i] = jobID
		}(i)
	}
	wg.Wait()

	if got := creates.Load(); got != 1 {
		t.Errorf("expected exactly one create, got %d", got)
	}
	for i, r := range results {
		if r != results[0] {
			t.Errorf("caller %d got %s, want %s", i, r, results[0])
		}
	}
}

func TestTableSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")

	table := newTestTable(t, path)
	if _, err := table.ResolveOrCreate("thread-1", func() (string, error) {
		return "jobid_durable", nil
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	reloaded := newTestTable(t, path)
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", reloaded.Len())
	}

	jobID, err := reloaded.ResolveOrCreate("thread-1", func() (string, error) {
		t.Error("create should not run after reload")
		return "jobid_wrong", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if jobID != "jobid_durable" {
		t.Errorf("expected jobid_durable, got %s", jobID)
	}
}

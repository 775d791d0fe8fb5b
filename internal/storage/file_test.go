package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	logx "freshen/pkg/logx"
)

func openFileTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "tasks"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open file store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStoreContract(t *testing.T) {
	t.Parallel()
	storeContractTest(t, openFileTestStore)
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("Open without path: want error, got nil")
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks")

	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := nowMilli()
	rec := testRecord("sync", now.Add(time.Hour))
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	next := now.Add(2 * time.Hour)
	if _, err := st.Update(ctx, Filter{ID: "sync"}, Patch{
		Next:       &next,
		LastResult: ptr(null.StringFrom("v1")),
	}, UpdateOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A clean close folds the journal into the snapshot.
	st2, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.FindOne(ctx, Filter{ID: "sync"})
	if err != nil {
		t.Fatalf("FindOne after reopen: %v", err)
	}
	if !got.Next.Equal(next) {
		t.Fatalf("Next = %v, want %v", got.Next, next)
	}
	if got.LastResult != null.StringFrom("v1") {
		t.Fatalf("LastResult = %+v, want v1", got.LastResult)
	}
}

func TestFileStoreJournalReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks")

	// Never closed: simulates a crash before any snapshot compaction.
	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := nowMilli()
	if err := st.Insert(ctx, testRecord("a", now)); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if err := st.Insert(ctx, testRecord("b", now.Add(time.Minute))); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	if _, err := st.Update(ctx, Filter{ID: "a"}, Patch{Status: ptr(StatusRunning)}, UpdateOptions{}); err != nil {
		t.Fatalf("Update a: %v", err)
	}

	st2, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	recs, err := st2.Find(ctx, Filter{})
	if err != nil {
		t.Fatalf("Find after replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Find = %d records, want 2", len(recs))
	}
	got, err := st2.FindOne(ctx, Filter{ID: "a"})
	if err != nil {
		t.Fatalf("FindOne a: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("a.Status = %q, want %q (journal entry lost)", got.Status, StatusRunning)
	}
}

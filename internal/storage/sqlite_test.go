package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "freshen/pkg/logx"
)

func openSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "tasks.db"),
		BusyTimeout: 5 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStoreContract(t *testing.T) {
	t.Parallel()
	storeContractTest(t, openSQLiteTestStore)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("Open without path: want error, got nil")
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := nowMilli()
	rec := testRecord("sync", now.Add(time.Hour))
	if err := st.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, err := st2.FindOne(ctx, Filter{ID: "sync"})
	if err != nil {
		t.Fatalf("FindOne after reopen: %v", err)
	}
	assertRecordEqual(t, got, rec)
}

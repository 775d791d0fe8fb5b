package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	logx "freshen/pkg/logx"
)

func openRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := Open(context.Background(), Config{
		Driver: "redis",
		Addr:   mr.Addr(),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open redis store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedisStoreContract(t *testing.T) {
	t.Parallel()
	storeContractTest(t, openRedisTestStore)
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("Open without addr: want error, got nil")
	}
}

func TestRedisStoreDueIndexFollowsUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openRedisTestStore(t)

	now := nowMilli()
	if err := st.Insert(ctx, testRecord("sync", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	due, err := st.Find(ctx, Filter{NextBefore: now})
	if err != nil {
		t.Fatalf("Find due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Find due = %d records, want 1", len(due))
	}

	// Pushing next into the future must also move the index entry.
	next := now.Add(time.Hour)
	if _, err := st.Update(ctx, Filter{ID: "sync"}, Patch{Next: &next}, UpdateOptions{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	due, err = st.Find(ctx, Filter{NextBefore: now})
	if err != nil {
		t.Fatalf("Find due after update: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("Find due after update = %+v, want none", due)
	}
}

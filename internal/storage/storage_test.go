package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	logx "freshen/pkg/logx"
)

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "bogus"}, logx.Nop())
	if err == nil {
		t.Fatal("Open with unknown driver: want error, got nil")
	}
}

// testRecord builds a minimal fresh record the way the engine would
// persist it right after registration.
func testRecord(id string, next time.Time) Record {
	return Record{
		ID:         id,
		MinAge:     50 * time.Minute,
		MaxAge:     70 * time.Minute,
		Status:     StatusWaiting,
		LastStatus: OutcomeNone,
		Next:       next,
	}
}

// nowMilli returns the current time truncated to the millisecond
// precision every driver persists.
func nowMilli() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

func ptr[T any](v T) *T { return &v }

func assertNullTimeEqual(t *testing.T, name string, got, want null.Time) {
	t.Helper()
	if got.Valid != want.Valid {
		t.Fatalf("%s.Valid = %v, want %v", name, got.Valid, want.Valid)
	}
	if got.Valid && !got.Time.Equal(want.Time) {
		t.Fatalf("%s = %v, want %v", name, got.Time, want.Time)
	}
}

func assertRecordEqual(t *testing.T, got, want Record) {
	t.Helper()
	if got.ID != want.ID {
		t.Fatalf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.MinAge != want.MinAge || got.MaxAge != want.MaxAge {
		t.Fatalf("window = [%v, %v], want [%v, %v]", got.MinAge, got.MaxAge, want.MinAge, want.MaxAge)
	}
	if got.Status != want.Status {
		t.Fatalf("Status = %q, want %q", got.Status, want.Status)
	}
	if got.LastStatus != want.LastStatus {
		t.Fatalf("LastStatus = %q, want %q", got.LastStatus, want.LastStatus)
	}
	assertNullTimeEqual(t, "Last", got.Last, want.Last)
	assertNullTimeEqual(t, "LastEnd", got.LastEnd, want.LastEnd)
	if got.LastError != want.LastError {
		t.Fatalf("LastError = %+v, want %+v", got.LastError, want.LastError)
	}
	if got.LastElapsed != want.LastElapsed {
		t.Fatalf("LastElapsed = %+v, want %+v", got.LastElapsed, want.LastElapsed)
	}
	if got.LastResult != want.LastResult {
		t.Fatalf("LastResult = %+v, want %+v", got.LastResult, want.LastResult)
	}
	if !got.Next.Equal(want.Next) {
		t.Fatalf("Next = %v, want %v", got.Next, want.Next)
	}
}

// storeContractTest exercises the behaviors every driver must share.
// open must return a fresh, empty store.
func storeContractTest(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert and find one", func(t *testing.T) {
		st := open(t)
		now := nowMilli()
		rec := testRecord("sync", now.Add(10*time.Minute))
		rec.Last = null.TimeFrom(now.Add(-time.Hour))
		rec.LastStatus = OutcomeSuccess
		rec.LastEnd = null.TimeFrom(now.Add(-59 * time.Minute))
		rec.LastElapsed = null.StringFrom("1min")
		rec.LastResult = null.StringFrom(`{"ok":true}`)

		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := st.FindOne(ctx, Filter{ID: "sync"})
		if err != nil {
			t.Fatalf("FindOne: %v", err)
		}
		assertRecordEqual(t, got, rec)
	})

	t.Run("insert duplicate", func(t *testing.T) {
		st := open(t)
		rec := testRecord("dup", nowMilli())
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := st.Insert(ctx, rec); !errors.Is(err, ErrExists) {
			t.Fatalf("second Insert = %v, want ErrExists", err)
		}
	})

	t.Run("find one missing", func(t *testing.T) {
		st := open(t)
		if _, err := st.FindOne(ctx, Filter{ID: "ghost"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("FindOne = %v, want ErrNotFound", err)
		}
	})

	t.Run("find due skips running and future", func(t *testing.T) {
		st := open(t)
		now := nowMilli()

		due := testRecord("due", now.Add(-time.Minute))
		running := testRecord("running", now.Add(-time.Minute))
		running.Status = StatusRunning
		exact := testRecord("exact", now)
		future := testRecord("future", now.Add(time.Hour))

		for _, r := range []Record{due, running, exact, future} {
			if err := st.Insert(ctx, r); err != nil {
				t.Fatalf("Insert %s: %v", r.ID, err)
			}
		}

		got, err := st.Find(ctx, Filter{NextBefore: now, StatusNot: StatusRunning})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 1 || got[0].ID != "due" {
			t.Fatalf("Find due = %+v, want exactly [due]", got)
		}
	})

	t.Run("find all sorted", func(t *testing.T) {
		st := open(t)
		now := nowMilli()
		for _, id := range []string{"b", "a", "c"} {
			if err := st.Insert(ctx, testRecord(id, now)); err != nil {
				t.Fatalf("Insert %s: %v", id, err)
			}
		}
		got, err := st.Find(ctx, Filter{})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
			t.Fatalf("Find all = %+v, want [a b c]", got)
		}
	})

	t.Run("patch sets and clears fields", func(t *testing.T) {
		st := open(t)
		now := nowMilli()
		rec := testRecord("job", now)
		rec.Status = StatusRunning
		rec.LastStatus = OutcomeError
		rec.LastError = null.StringFrom("network down")
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		next := now.Add(time.Hour)
		n, err := st.Update(ctx, Filter{ID: "job"}, Patch{
			Status:     ptr(StatusWaiting),
			LastStatus: ptr(OutcomeSuccess),
			LastError:  &null.String{},
			Next:       &next,
		}, UpdateOptions{})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if n != 1 {
			t.Fatalf("Update matched %d records, want 1", n)
		}

		got, err := st.FindOne(ctx, Filter{ID: "job"})
		if err != nil {
			t.Fatalf("FindOne: %v", err)
		}
		if got.Status != StatusWaiting || got.LastStatus != OutcomeSuccess {
			t.Fatalf("patched record = %+v", got)
		}
		if got.LastError.Valid {
			t.Fatalf("LastError = %+v, want cleared", got.LastError)
		}
		if !got.Next.Equal(next) {
			t.Fatalf("Next = %v, want %v", got.Next, next)
		}
		// Untouched fields survive.
		if got.MinAge != rec.MinAge || got.MaxAge != rec.MaxAge {
			t.Fatalf("window changed: %+v", got)
		}
	})

	t.Run("update without match", func(t *testing.T) {
		st := open(t)
		n, err := st.Update(ctx, Filter{ID: "ghost"}, Patch{Status: ptr(StatusWaiting)}, UpdateOptions{})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if n != 0 {
			t.Fatalf("Update matched %d records, want 0", n)
		}
	})

	t.Run("upsert creates", func(t *testing.T) {
		st := open(t)
		now := nowMilli()
		rec := testRecord("fresh", now.Add(30*time.Minute))
		n, err := st.Update(ctx, Filter{ID: rec.ID}, FullPatch(rec), UpdateOptions{Upsert: true})
		if err != nil {
			t.Fatalf("Update upsert: %v", err)
		}
		if n != 1 {
			t.Fatalf("upsert wrote %d records, want 1", n)
		}
		got, err := st.FindOne(ctx, Filter{ID: rec.ID})
		if err != nil {
			t.Fatalf("FindOne: %v", err)
		}
		assertRecordEqual(t, got, rec)
	})

	t.Run("upsert updates existing", func(t *testing.T) {
		st := open(t)
		now := nowMilli()
		rec := testRecord("existing", now)
		rec.LastResult = null.StringFrom("keep me")
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		next := now.Add(2 * time.Hour)
		n, err := st.Update(ctx, Filter{ID: rec.ID}, Patch{Next: &next}, UpdateOptions{Upsert: true})
		if err != nil {
			t.Fatalf("Update upsert: %v", err)
		}
		if n != 1 {
			t.Fatalf("upsert wrote %d records, want 1", n)
		}
		got, err := st.FindOne(ctx, Filter{ID: rec.ID})
		if err != nil {
			t.Fatalf("FindOne: %v", err)
		}
		if !got.Next.Equal(next) {
			t.Fatalf("Next = %v, want %v", got.Next, next)
		}
		if got.LastResult != rec.LastResult {
			t.Fatalf("LastResult = %+v, want untouched %+v", got.LastResult, rec.LastResult)
		}
	})

	t.Run("upsert requires id", func(t *testing.T) {
		st := open(t)
		_, err := st.Update(ctx, Filter{StatusNot: StatusRunning}, Patch{Status: ptr(StatusWaiting)}, UpdateOptions{Upsert: true})
		if err == nil {
			t.Fatal("upsert without id filter: want error, got nil")
		}
	})
}

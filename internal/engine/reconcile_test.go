package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"freshen/internal/storage"
)

func TestReconcileFreshRecord(t *testing.T) {
	t.Parallel()

	now := time.Now()
	w := Window{Min: 50 * time.Minute, Max: 70 * time.Minute}
	rec := reconcile(nil, "fetch", w, now, rand.New(rand.NewSource(1)))

	if rec.ID != "fetch" {
		t.Fatalf("ID = %q, want %q", rec.ID, "fetch")
	}
	if rec.MinAge != w.Min || rec.MaxAge != w.Max {
		t.Fatalf("window = [%v, %v], want [%v, %v]", rec.MinAge, rec.MaxAge, w.Min, w.Max)
	}
	if rec.Status != storage.StatusWaiting {
		t.Fatalf("Status = %q, want %q", rec.Status, storage.StatusWaiting)
	}
	if rec.Last.Valid {
		t.Fatalf("Last = %v, want null", rec.Last)
	}
	if rec.LastStatus != storage.OutcomeNone {
		t.Fatalf("LastStatus = %q, want %q", rec.LastStatus, storage.OutcomeNone)
	}
	if rec.Next.Before(now) || !rec.Next.Before(now.Add(w.Span())) {
		t.Fatalf("Next = %v, want within [%v, %v)", rec.Next, now, now.Add(w.Span()))
	}
}

func TestReconcileFreshFixedWindowDueImmediately(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rec := reconcile(nil, "fetch", Window{Min: time.Hour, Max: time.Hour}, now, rand.New(rand.NewSource(1)))
	if !rec.Next.Equal(now) {
		t.Fatalf("Next = %v, want %v", rec.Next, now)
	}
}

func TestReconcileKeepsHistoryAndNext(t *testing.T) {
	t.Parallel()

	now := time.Now()
	prior := &storage.Record{
		ID:          "fetch",
		MinAge:      10 * time.Minute,
		MaxAge:      20 * time.Minute,
		Status:      storage.StatusWaiting,
		Last:        null.TimeFrom(now.Add(-time.Hour)),
		LastStatus:  storage.OutcomeSuccess,
		LastError:   null.String{},
		LastEnd:     null.TimeFrom(now.Add(-59 * time.Minute)),
		LastElapsed: null.StringFrom("1min"),
		LastResult:  null.StringFrom(`{"n":1}`),
		Next:        now.Add(5 * time.Minute),
	}
	w := Window{Min: 50 * time.Minute, Max: 70 * time.Minute}
	rec := reconcile(prior, "fetch", w, now, rand.New(rand.NewSource(1)))

	if rec.MinAge != w.Min || rec.MaxAge != w.Max {
		t.Fatalf("window = [%v, %v], want declared [%v, %v]", rec.MinAge, rec.MaxAge, w.Min, w.Max)
	}
	if !rec.Last.Time.Equal(prior.Last.Time) || !rec.Last.Valid {
		t.Fatalf("Last = %v, want preserved %v", rec.Last, prior.Last)
	}
	if rec.LastStatus != storage.OutcomeSuccess {
		t.Fatalf("LastStatus = %q, want %q", rec.LastStatus, storage.OutcomeSuccess)
	}
	if rec.LastResult != prior.LastResult {
		t.Fatalf("LastResult = %v, want preserved %v", rec.LastResult, prior.LastResult)
	}
	if !rec.Next.Equal(prior.Next) {
		t.Fatalf("Next = %v, want preserved %v", rec.Next, prior.Next)
	}
	if rec.Status != storage.StatusWaiting {
		t.Fatalf("Status = %q, want %q", rec.Status, storage.StatusWaiting)
	}
}

func TestReconcileInterruptedRun(t *testing.T) {
	t.Parallel()

	now := time.Now()
	w := Window{Min: time.Hour, Max: time.Hour}

	withHistory := &storage.Record{
		ID:         "fetch",
		Status:     storage.StatusRunning,
		Last:       null.TimeFrom(now.Add(-time.Minute)),
		LastStatus: storage.OutcomeSuccess,
		Next:       now.Add(time.Hour),
	}
	rec := reconcile(withHistory, "fetch", w, now, rand.New(rand.NewSource(1)))
	if rec.LastStatus != storage.OutcomeInterrupted {
		t.Fatalf("LastStatus = %q, want %q", rec.LastStatus, storage.OutcomeInterrupted)
	}
	if rec.Status != storage.StatusWaiting {
		t.Fatalf("Status = %q, want %q", rec.Status, storage.StatusWaiting)
	}

	// Running but never actually started: no history to relabel.
	withoutHistory := &storage.Record{
		ID:     "fetch",
		Status: storage.StatusRunning,
		Next:   now.Add(time.Hour),
	}
	rec = reconcile(withoutHistory, "fetch", w, now, rand.New(rand.NewSource(1)))
	if rec.LastStatus != storage.OutcomeNone {
		t.Fatalf("LastStatus = %q, want %q", rec.LastStatus, storage.OutcomeNone)
	}
}

func TestReconcileRegeneratesMissingNext(t *testing.T) {
	t.Parallel()

	now := time.Now()
	prior := &storage.Record{ID: "fetch", Status: storage.StatusWaiting}
	w := Window{Min: 50 * time.Minute, Max: 70 * time.Minute}
	rec := reconcile(prior, "fetch", w, now, rand.New(rand.NewSource(1)))
	if rec.Next.Before(now) || !rec.Next.Before(now.Add(w.Span())) {
		t.Fatalf("Next = %v, want regenerated within [%v, %v)", rec.Next, now, now.Add(w.Span()))
	}
	if rec.LastStatus != storage.OutcomeNone {
		t.Fatalf("LastStatus = %q, want %q", rec.LastStatus, storage.OutcomeNone)
	}
}

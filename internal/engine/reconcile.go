package engine

import (
	"math/rand"
	"time"

	"github.com/guregu/null/v6"

	"freshen/internal/storage"
)

// reconcile merges a task's persisted record (nil when the task has
// never been seen) with its declared window. Precedence is fixed: the
// declared window always wins, persisted history wins when present,
// defaults otherwise.
//
// Two side rules:
//   - a record left in status running with run history belongs to a
//     process that died mid-run; its outcome label says so
//   - status always resets to waiting, execution state never survives
//     a registration
func reconcile(prior *storage.Record, id string, w Window, now time.Time, rng *rand.Rand) storage.Record {
	rec := storage.Record{
		ID:         id,
		MinAge:     w.Min,
		MaxAge:     w.Max,
		Status:     storage.StatusWaiting,
		Last:       null.Time{},
		LastStatus: storage.OutcomeNone,
		Next:       now.Add(firstDelay(w, rng)),
	}
	if prior == nil {
		return rec
	}

	rec.Last = prior.Last
	if prior.LastStatus != "" {
		rec.LastStatus = prior.LastStatus
	}
	rec.LastError = prior.LastError
	rec.LastEnd = prior.LastEnd
	rec.LastElapsed = prior.LastElapsed
	rec.LastResult = prior.LastResult
	if !prior.Next.IsZero() {
		rec.Next = prior.Next
	}
	if prior.Status == storage.StatusRunning && prior.Last.Valid {
		rec.LastStatus = storage.OutcomeInterrupted
	}
	return rec
}

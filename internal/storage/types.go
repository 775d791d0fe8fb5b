package storage

import (
	"context"
	"errors"
	"time"

	"github.com/guregu/null/v6"
)

var (
	// ErrNotFound is returned by FindOne when no record matches.
	ErrNotFound = errors.New("task record not found")
	// ErrExists is returned by Insert when the id is already present.
	ErrExists = errors.New("task record already exists")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via connection DSN
//   - "redis": Redis hash + due-time index
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver string

	// Path locates the file or sqlite database on disk.
	Path string

	// DSN is the postgres connection string.
	DSN string

	// Redis connection settings. KeyPrefix defaults to "freshen".
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is the lifecycle state of a task record.
type Status string

const (
	// StatusWaiting marks a task that is idle until its Next timestamp.
	StatusWaiting Status = "waiting"
	// StatusRunning marks a task whose handler is currently executing.
	StatusRunning Status = "running"
)

// Outcome labels how the most recent run of a task finished.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	// OutcomeNone is the placeholder before any run has completed.
	OutcomeNone Outcome = "no prior run information"
	// OutcomeInterrupted replaces a stale "running" status found at
	// registration: the previous process died mid-run.
	OutcomeInterrupted Outcome = "interrupted by program execution ending"
)

// Record is the persisted state of one task, keyed by ID.
// Keep it compact and schema-stable.
type Record struct {
	ID string

	// Declared age window: the task becomes due again once its age
	// (time since last completion) reaches a point inside
	// [MinAge, MaxAge].
	MinAge time.Duration
	MaxAge time.Duration

	Status Status

	Last        null.Time // start of the most recent run
	LastStatus  Outcome
	LastError   null.String // failure detail when LastStatus is "error"
	LastEnd     null.Time   // completion of the most recent run
	LastElapsed null.String // human-readable run duration
	LastResult  null.String // serialized handler result

	// Next is the earliest time the task becomes due again.
	Next time.Time
}

// Filter selects records. The zero value matches everything; set
// fields combine with AND.
type Filter struct {
	// ID matches exactly when non-empty.
	ID string

	// NextBefore keeps records whose Next is strictly earlier.
	NextBefore time.Time

	// StatusNot drops records currently in the given status.
	StatusNot Status
}

func (f Filter) matches(r Record) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if !f.NextBefore.IsZero() && !r.Next.Before(f.NextBefore) {
		return false
	}
	if f.StatusNot != "" && r.Status == f.StatusNot {
		return false
	}
	return true
}

// Patch is a partial update with set-only semantics: nil fields are
// left untouched on the stored record.
type Patch struct {
	MinAge *time.Duration
	MaxAge *time.Duration
	Status *Status

	Last        *null.Time
	LastStatus  *Outcome
	LastError   *null.String
	LastEnd     *null.Time
	LastElapsed *null.String
	LastResult  *null.String

	Next *time.Time
}

// Apply copies the set fields of p onto r.
func (p Patch) Apply(r *Record) {
	if p.MinAge != nil {
		r.MinAge = *p.MinAge
	}
	if p.MaxAge != nil {
		r.MaxAge = *p.MaxAge
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Last != nil {
		r.Last = *p.Last
	}
	if p.LastStatus != nil {
		r.LastStatus = *p.LastStatus
	}
	if p.LastError != nil {
		r.LastError = *p.LastError
	}
	if p.LastEnd != nil {
		r.LastEnd = *p.LastEnd
	}
	if p.LastElapsed != nil {
		r.LastElapsed = *p.LastElapsed
	}
	if p.LastResult != nil {
		r.LastResult = *p.LastResult
	}
	if p.Next != nil {
		r.Next = *p.Next
	}
}

// FullPatch returns a patch that sets every field of r, for writes
// that replace the whole record.
func FullPatch(r Record) Patch {
	return Patch{
		MinAge:      &r.MinAge,
		MaxAge:      &r.MaxAge,
		Status:      &r.Status,
		Last:        &r.Last,
		LastStatus:  &r.LastStatus,
		LastError:   &r.LastError,
		LastEnd:     &r.LastEnd,
		LastElapsed: &r.LastElapsed,
		LastResult:  &r.LastResult,
		Next:        &r.Next,
	}
}

// UpdateOptions tweaks Update behavior.
type UpdateOptions struct {
	// Upsert inserts a record seeded from the patch when the filter
	// matches nothing. The filter must select by ID.
	Upsert bool
}

// Store is the persistence contract the scheduling engine depends on.
//
// Update applies the patch to every record the filter matches and
// reports how many records were written.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Find(ctx context.Context, f Filter) ([]Record, error)
	FindOne(ctx context.Context, f Filter) (Record, error)
	Update(ctx context.Context, f Filter, p Patch, opts UpdateOptions) (int, error)
	Close() error
}

package api

import (
	"time"

	"github.com/guregu/null/v6"

	"freshen/internal/storage"
	"freshen/pkg/durstr"
)

// taskView is the JSON rendering of one task record. Nullable history
// fields marshal as explicit nulls.
type taskView struct {
	ID          string      `json:"id"`
	Window      string      `json:"window"`
	Status      string      `json:"status"`
	Last        null.Time   `json:"last"`
	LastStatus  string      `json:"last_status"`
	LastError   null.String `json:"last_error"`
	LastEnd     null.Time   `json:"last_end"`
	LastElapsed null.String `json:"last_elapsed"`
	LastResult  null.String `json:"last_result"`
	Next        time.Time   `json:"next"`
	Due         bool        `json:"due"`
}

func viewOf(r storage.Record, now time.Time) taskView {
	window := durstr.Format(r.MinAge)
	if r.MaxAge != r.MinAge {
		window += " - " + durstr.Format(r.MaxAge)
	}
	return taskView{
		ID:          r.ID,
		Window:      window,
		Status:      string(r.Status),
		Last:        r.Last,
		LastStatus:  string(r.LastStatus),
		LastError:   r.LastError,
		LastEnd:     r.LastEnd,
		LastElapsed: r.LastElapsed,
		LastResult:  r.LastResult,
		Next:        r.Next,
		Due:         r.Next.Before(now) && r.Status != storage.StatusRunning,
	}
}

func viewsOf(recs []storage.Record, now time.Time) []taskView {
	views := make([]taskView, len(recs))
	for i, r := range recs {
		views[i] = viewOf(r, now)
	}
	return views
}

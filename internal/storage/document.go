package storage

import (
	"time"

	"github.com/guregu/null/v6"
)

// recordDoc is the JSON document shape shared by the file and redis
// drivers. Timestamps are unix milliseconds; absent history fields are
// explicit nulls.
type recordDoc struct {
	ID          string  `json:"id"`
	MinAgeMS    int64   `json:"minAge"`
	MaxAgeMS    int64   `json:"maxAge"`
	Status      string  `json:"status"`
	Last        *int64  `json:"last"`
	LastStatus  string  `json:"lastStatus"`
	LastError   *string `json:"lastError"`
	LastEnd     *int64  `json:"lastEnd"`
	LastElapsed *string `json:"lastElapsed"`
	LastResult  *string `json:"lastResult"`
	Next        int64   `json:"next"`
}

func encodeDoc(r Record) recordDoc {
	return recordDoc{
		ID:          r.ID,
		MinAgeMS:    r.MinAge.Milliseconds(),
		MaxAgeMS:    r.MaxAge.Milliseconds(),
		Status:      string(r.Status),
		Last:        msPtr(r.Last),
		LastStatus:  string(r.LastStatus),
		LastError:   r.LastError.Ptr(),
		LastEnd:     msPtr(r.LastEnd),
		LastElapsed: r.LastElapsed.Ptr(),
		LastResult:  r.LastResult.Ptr(),
		Next:        r.Next.UnixMilli(),
	}
}

func (d recordDoc) decode() Record {
	return Record{
		ID:          d.ID,
		MinAge:      time.Duration(d.MinAgeMS) * time.Millisecond,
		MaxAge:      time.Duration(d.MaxAgeMS) * time.Millisecond,
		Status:      Status(d.Status),
		Last:        timeFromMS(d.Last),
		LastStatus:  Outcome(d.LastStatus),
		LastError:   null.StringFromPtr(d.LastError),
		LastEnd:     timeFromMS(d.LastEnd),
		LastElapsed: null.StringFromPtr(d.LastElapsed),
		LastResult:  null.StringFromPtr(d.LastResult),
		Next:        time.UnixMilli(d.Next),
	}
}

func msPtr(t null.Time) *int64 {
	if !t.Valid {
		return nil
	}
	ms := t.Time.UnixMilli()
	return &ms
}

func timeFromMS(p *int64) null.Time {
	if p == nil {
		return null.Time{}
	}
	return null.TimeFrom(time.UnixMilli(*p))
}

package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"

	"freshen/internal/eventbus"
	"freshen/internal/storage"
	"freshen/pkg/logx"
)

func TestNewDisabledWithoutCredentials(t *testing.T) {
	t.Parallel()

	n, err := New(Options{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n != nil {
		t.Fatalf("New = %+v, want nil notifier without credentials", n)
	}
	// nil receiver is inert.
	n.Watch(context.Background(), nil)
}

func TestFormatFailure(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ev := eventbus.Event{
		Type: eventbus.TaskError,
		Task: "poll-upstream",
		Err:  "command failed: exit status 3",
		Record: &storage.Record{
			ID:          "poll-upstream",
			LastElapsed: null.StringFrom("2s 150ms"),
			Next:        next,
		},
	}
	got := FormatFailure(ev)
	for _, want := range []string{
		"poll-upstream failed",
		"after 2s 150ms",
		"exit status 3",
		"next attempt: 2026-03-14T09:00:00Z",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("FormatFailure = %q, missing %q", got, want)
		}
	}

	bare := FormatFailure(eventbus.Event{Type: eventbus.TaskError, Task: "x"})
	if !strings.Contains(bare, "task x failed") {
		t.Fatalf("FormatFailure = %q for a record-less event", bare)
	}
}

package probe

import (
	"context"
	"strings"
	"testing"

	"freshen/internal/engine"
	"freshen/pkg/logx"
)

func TestCommandHandlerSuccess(t *testing.T) {
	t.Parallel()

	h := CommandHandler("echo '  hello world  '", logx.Nop())
	got, err := h(context.Background(), engine.Task{ID: "echo"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("result = %q, want trimmed stdout", got)
	}
}

func TestCommandHandlerFailure(t *testing.T) {
	t.Parallel()

	h := CommandHandler("echo 'disk not mounted' >&2; exit 3", logx.Nop())
	got, err := h(context.Background(), engine.Task{ID: "check"})
	if err == nil {
		t.Fatalf("handler = %v, want error for non-zero exit", got)
	}
	if !strings.Contains(err.Error(), "disk not mounted") {
		t.Fatalf("error %q does not carry stderr detail", err)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Fatalf("error %q does not carry the exit status", err)
	}
}

func TestCommandHandlerCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := CommandHandler("sleep 10", logx.Nop())
	if _, err := h(ctx, engine.Task{ID: "sleep"}); err == nil {
		t.Fatalf("handler succeeded under a cancelled context")
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := tail("short", 10); got != "short" {
		t.Fatalf("tail = %q, want unchanged", got)
	}
	long := strings.Repeat("x", 20) + "END"
	got := tail(long, 10)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "END") {
		t.Fatalf("tail = %q, want truncated suffix", got)
	}
}

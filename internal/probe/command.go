// Package probe provides the builtin task handlers the daemon binds to
// config-defined tasks: shell commands and the network speedtest.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"freshen/internal/engine"
	"freshen/pkg/logx"
)

// CommandHandler runs a shell command line. Trimmed stdout becomes the
// task result; a non-zero exit fails the run with the stderr tail
// attached so the persisted error says what broke.
func CommandHandler(command string, log logx.Logger) engine.Handler {
	return func(ctx context.Context, t engine.Task) (any, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = strings.TrimSpace(stdout.String())
			}
			if detail != "" {
				return nil, fmt.Errorf("command failed: %w: %s", err, tail(detail, 500))
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}

		out := strings.TrimSpace(stdout.String())
		log.Debug("command completed",
			logx.String("task", t.ID),
			logx.Int("stdout_len", len(out)))
		return out, nil
	}
}

// tail keeps the last max bytes of s. Error details feed persisted
// records and notifications, both of which want bounded sizes.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

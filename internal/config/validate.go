package config

import (
	"fmt"
	"strings"
)

// Validate checks everything that can be checked without touching the
// store or the engine. Window grammar is validated by the daemon,
// which owns the parser.
func (c *Config) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch driver {
	case "", "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			if driver == "" {
				driver = "file"
			}
			return fmt.Errorf("storage: driver %q requires path", driver)
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage: driver %q requires dsn", driver)
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Addr) == "" {
			return fmt.Errorf("storage: driver %q requires addr", driver)
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("cooldown", c.Cooldown); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"api.read_timeout", c.API.ReadTimeout},
		{"api.write_timeout", c.API.WriteTimeout},
		{"api.idle_timeout", c.API.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.Token) == "" || c.Notify.ChatID == 0 {
			return fmt.Errorf("notify: enabled but token or chat_id missing")
		}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("tasks[%d]: id required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("task %q defined multiple times", id)
		}
		seen[id] = struct{}{}

		if strings.TrimSpace(t.Window) == "" {
			return fmt.Errorf("task %q: window required", id)
		}
		hasCmd := strings.TrimSpace(t.Command) != ""
		hasProbe := strings.TrimSpace(t.Probe) != ""
		switch {
		case hasCmd && hasProbe:
			return fmt.Errorf("task %q: command and probe are mutually exclusive", id)
		case !hasCmd && !hasProbe:
			return fmt.Errorf("task %q: one of command or probe required", id)
		case hasProbe && strings.TrimSpace(t.Probe) != "speedtest":
			return fmt.Errorf("task %q: unknown probe %q", id, t.Probe)
		}
	}
	return nil
}

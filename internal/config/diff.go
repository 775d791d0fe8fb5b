package config

import (
	"reflect"
	"sort"
	"strings"

	"freshen/pkg/logx"
)

// Live-reloadable sections. Everything else is wired at boot and a
// change there only takes effect on restart.
var liveSections = map[string]bool{
	"logging":  true,
	"cooldown": true,
}

// SummarizeChange returns the changed sections, safe structured attrs
// for logging (never secrets), and the subset of changed sections that
// needs a restart to apply.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
		)
	}

	// Never log the token; only whether one is set.
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(newCfg.Notify.Token) != ""),
			logx.Bool("notify.chat_set", newCfg.Notify.ChatID != 0),
			logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec),
		)
	}

	if strings.TrimSpace(oldCfg.Cooldown) != strings.TrimSpace(newCfg.Cooldown) {
		changed = append(changed, "cooldown")
		attrs = append(attrs, logx.String("cooldown", strings.TrimSpace(newCfg.Cooldown)))
	}

	if tasksChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks); len(tasksChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(tasksChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	for _, section := range changed {
		if !liveSections[section] {
			restart = append(restart, section)
		}
	}
	return changed, attrs, restart
}

// diffTasks returns ids whose definition was added, removed or edited.
func diffTasks(oldT, newT []TaskConfig) []string {
	oldM := make(map[string]TaskConfig, len(oldT))
	for _, t := range oldT {
		oldM[strings.TrimSpace(t.ID)] = t
	}
	newM := make(map[string]TaskConfig, len(newT))
	for _, t := range newT {
		newM[strings.TrimSpace(t.ID)] = t
	}

	set := map[string]struct{}{}
	for id := range oldM {
		set[id] = struct{}{}
	}
	for id := range newM {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, oOK := oldM[id]
		n, nOK := newM[id]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

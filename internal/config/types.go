package config

// Config is the daemon's file configuration, YAML or JSON.
type Config struct {
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
	API     APIConfig     `json:"api,omitempty"`
	Notify  NotifyConfig  `json:"notify,omitempty"`

	// Cooldown is the pause between due-task sweeps, a human duration
	// string ("30s", "2min"). Empty means the engine default.
	Cooldown string `json:"cooldown,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

// StorageConfig selects and parameterizes the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./freshen_store/tasks.json" }
type StorageConfig struct {
	Driver string `json:"driver"`

	// Path locates the file store's document file or the sqlite
	// database file.
	Path string `json:"path,omitempty"`

	// DSN is the postgres connection string.
	DSN string `json:"dsn,omitempty"`

	// Addr, Password, DB and KeyPrefix parameterize redis.
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`

	// BusyTimeout is a human duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// APIConfig controls the admin HTTP server.
//
// Prefer binding to localhost; the server carries no authentication.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// Server timeouts, human duration strings. Zero keeps Go defaults.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifyConfig controls the Telegram failure notifier. Disabled unless
// Enabled is set and both Token and ChatID are present.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 1
}

// TaskConfig defines one refreshable task. Exactly one of Command or
// Probe must be set.
type TaskConfig struct {
	ID string `json:"id"`

	// Window is the acceptable age window: "5min", "1h +/- 10min" or
	// "50min - 70min".
	Window string `json:"window"`

	// Command is a shell command line. Its trimmed stdout becomes the
	// task result; a non-zero exit marks the run failed.
	Command string `json:"command,omitempty"`

	// Probe names a builtin handler. Supported: "speedtest".
	Probe string `json:"probe,omitempty"`
}

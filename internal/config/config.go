// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the sync daemon. Adapted from the
// teacher's internal/config package: same profile-table shape and
// global-section layout, generalized from OneDrive's per-drive canonical-ID
// sections (this engine's bindings live in the Store, not the config file)
// down to a flat list of local-folder bootstrap entries.
package config

// Config is the top-level configuration structure. Profiles let an
// operator keep several named tunable sets (e.g. "default", "battery-saver")
// and select one per invocation; Bootstrap lists local-folder/remote-URL
// entries, which are parsed and validated but from which no ServerBinding
// is created.
type Config struct {
	Profiles  map[string]Profile `toml:"profile"`
	Bootstrap []BootstrapBinding `toml:"bootstrap"`
	Filter    FilterConfig       `toml:"filter"`
	Sync      SyncConfig         `toml:"sync"`
	Logging   LoggingConfig      `toml:"logging"`
	Network   NetworkConfig      `toml:"network"`
}

// Profile overrides any subset of the global sections; an empty field
// falls back to the corresponding global value (spec.md §6 "tunables").
type Profile struct {
	Filter  *FilterConfig `toml:"filter"`
	Sync    *SyncConfig   `toml:"sync"`
	Network *NetworkConfig `toml:"network"`
}

// BootstrapBinding declares one local-folder/remote-URL pair (spec.md §9
// "lazy root-pair bootstrap", supplemented from
// original_source/synchronizer.py's first-run root enumeration). Load and
// Validate read it; no command creates a ServerBinding from it.
type BootstrapBinding struct {
	LocalFolder string `toml:"local_folder"`
	ServerURL   string `toml:"server_url"`
}

// FilterConfig holds skip rules for local entries. ResolveProfile merges and
// returns it, but the local scanner does not apply it: every entry the
// LocalClient lists is scanned.
type FilterConfig struct {
	SkipFiles    []string `toml:"skip_files"`
	SkipDirs     []string `toml:"skip_dirs"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	MaxFileSize  string   `toml:"max_file_size"`
	IgnoreMarker string   `toml:"ignore_marker"`
}

// SyncConfig controls scheduler loop behavior (spec.md §4.H).
type SyncConfig struct {
	PollInterval    string `toml:"poll_interval"`
	ErrorSkipPeriod string `toml:"error_skip_period"`
	FullscanFrequency int  `toml:"fullscan_frequency"`
	Websocket       bool   `toml:"websocket"`
	MarkSelectionPageSize int `toml:"mark_selection_page_size"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	// MaxSyncStep caps how many pending pairs synchronize() resolves in one
	// pass per binding (spec.md §6 tunables, §4.H "synchronize(limit=max_sync_step)").
	MaxSyncStep int `toml:"max_sync_step"`
	// LimitPending caps how many pending pairs are even fetched and
	// considered before max_sync_step applies (spec.md §6).
	LimitPending int `toml:"limit_pending"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls the RemoteClient's HTTP behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

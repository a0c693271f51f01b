package config

// DefaultConfig returns a Config populated with every tunable default named
// in spec.md §6, before any TOML overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Profiles: make(map[string]Profile),
		Filter: FilterConfig{
			SkipFiles:    []string{"*.tmp", "*.swp", "~$*", ".DS_Store", "Thumbs.db"},
			SkipDirs:     []string{".git", ".nxsync"},
			SkipDotfiles: false,
			SkipSymlinks: true,
			MaxFileSize:  "",
			IgnoreMarker: ".nosync",
		},
		Sync: SyncConfig{
			PollInterval:          "30s",
			ErrorSkipPeriod:       "5m",
			FullscanFrequency:     10,
			Websocket:             false,
			MarkSelectionPageSize: 100,
			ShutdownTimeout:       "30s",
			MaxSyncStep:           10,
			LimitPending:          100,
		},
		Logging: LoggingConfig{
			LogLevel:         "info",
			LogFormat:        "text",
			LogRetentionDays: 14,
		},
		Network: NetworkConfig{
			ConnectTimeout: "10s",
			DataTimeout:    "5m",
			UserAgent:      "nxsync/1.0",
		},
	}
}

// ResolveProfile merges a named profile's overrides onto the global
// sections, returning the effective Filter/Sync/Network for one run. An
// unknown or empty profile name returns the global sections unchanged.
func (c *Config) ResolveProfile(name string) (FilterConfig, SyncConfig, NetworkConfig) {
	filter, sync, network := c.Filter, c.Sync, c.Network

	if name == "" {
		return filter, sync, network
	}

	p, ok := c.Profiles[name]
	if !ok {
		return filter, sync, network
	}

	if p.Filter != nil {
		filter = *p.Filter
	}

	if p.Sync != nil {
		sync = *p.Sync
	}

	if p.Network != nil {
		network = *p.Network
	}

	return filter, sync, network
}

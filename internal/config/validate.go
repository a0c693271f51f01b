package config

import (
	"fmt"
	"time"
)

// Validate checks the parsed Config for internally inconsistent values,
// matching the scope of the teacher's validate.go (duration parseability,
// positive counters) without the OneDrive-specific drive-section checks.
func Validate(cfg *Config) error {
	if err := validateDuration("sync.poll_interval", cfg.Sync.PollInterval); err != nil {
		return err
	}

	if err := validateDuration("sync.error_skip_period", cfg.Sync.ErrorSkipPeriod); err != nil {
		return err
	}

	if err := validateDuration("sync.shutdown_timeout", cfg.Sync.ShutdownTimeout); err != nil {
		return err
	}

	if cfg.Sync.MarkSelectionPageSize <= 0 {
		return fmt.Errorf("sync.mark_selection_page_size must be positive, got %d", cfg.Sync.MarkSelectionPageSize)
	}

	if cfg.Sync.FullscanFrequency < 0 {
		return fmt.Errorf("sync.fullscan_frequency must not be negative, got %d", cfg.Sync.FullscanFrequency)
	}

	if cfg.Sync.MaxSyncStep <= 0 {
		return fmt.Errorf("sync.max_sync_step must be positive, got %d", cfg.Sync.MaxSyncStep)
	}

	if cfg.Sync.LimitPending <= 0 {
		return fmt.Errorf("sync.limit_pending must be positive, got %d", cfg.Sync.LimitPending)
	}

	if err := validateDuration("network.connect_timeout", cfg.Network.ConnectTimeout); err != nil {
		return err
	}

	if err := validateDuration("network.data_timeout", cfg.Network.DataTimeout); err != nil {
		return err
	}

	for name, p := range cfg.Profiles {
		if p.Sync != nil {
			if err := validateDuration(fmt.Sprintf("profile.%s.sync.poll_interval", name), p.Sync.PollInterval); err != nil {
				return err
			}
		}
	}

	for i, b := range cfg.Bootstrap {
		if b.LocalFolder == "" {
			return fmt.Errorf("bootstrap[%d]: local_folder must not be empty", i)
		}

		if b.ServerURL == "" {
			return fmt.Errorf("bootstrap[%d]: server_url must not be empty", i)
		}
	}

	return nil
}

func validateDuration(key, value string) error {
	if value == "" {
		return nil
	}

	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}

	return nil
}

package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

// Rules holds the thresholds of every detection rule
type Rules struct {
	FailedLogins FailedLoginRule `yaml:"failed_logins"`
	NewIP        NewIPRule       `yaml:"new_ip"`
	Downloads    DownloadRule    `yaml:"downloads"`
}

// FailedLoginRule alerts when a user's failed logins within Window reach
// Threshold
type FailedLoginRule struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// NewIPRule alerts on a successful login from an address the user never
// logged in from before
type NewIPRule struct {
	Enabled bool `yaml:"enabled"`
}

// DownloadRule alerts when a user's downloads within Window exceed Threshold
type DownloadRule struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// DefaultRules returns the built-in thresholds
func DefaultRules() Rules {
	return Rules{
		FailedLogins: FailedLoginRule{Enabled: true, Threshold: 5, Window: 15 * time.Minute},
		NewIP:        NewIPRule{Enabled: true},
		Downloads:    DownloadRule{Enabled: true, Threshold: 20, Window: 5 * time.Minute},
	}
}

// Validate checks thresholds and windows of enabled rules
func (r Rules) Validate() error {
	if r.FailedLogins.Enabled {
		if r.FailedLogins.Threshold <= 0 {
			return fmt.Errorf("failed_logins.threshold must be positive")
		}
		if r.FailedLogins.Window <= 0 {
			return fmt.Errorf("failed_logins.window must be positive")
		}
	}
	if r.Downloads.Enabled {
		if r.Downloads.Threshold < 0 {
			return fmt.Errorf("downloads.threshold must not be negative")
		}
		if r.Downloads.Window <= 0 {
			return fmt.Errorf("downloads.window must be positive")
		}
	}
	return nil
}

// LoadRules reads a YAML rules file. Keys missing from the file keep their
// defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Rules{}, fmt.Errorf("rules file %s is empty", path)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid rules file: %w", err)
	}
	return rules, nil
}

// WatchRules reloads path whenever it changes and hands valid rules to apply.
// Invalid files are logged and ignored so the last good rules stay active.
// The parent directory is watched so editors that replace the file by rename
// are picked up. WatchRules blocks until ctx is done.
func WatchRules(ctx context.Context, path string, logger *observability.Logger, apply func(Rules)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve rules path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}

	logger = logger.WithField("path", abs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			rules, err := LoadRules(abs)
			if err != nil {
				logger.WithError(err).Warn("Ignoring monitoring rules change")
				continue
			}
			apply(rules)
			logger.Info("Reloaded monitoring rules")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Rules watcher error")
		}
	}
}

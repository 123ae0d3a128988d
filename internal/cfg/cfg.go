// Package cfg loads and saves the operator-facing orchestrator settings:
// admission concurrency, polling intervals, retention age and resource
// caps. Persisted as a single JSON file, read-modify-write on every save,
// the same way the teacher's global configuration file works.
package cfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cairn-dev/cairn/internal/cairnerr"
)

// Config holds every tunable the orchestrator reads at startup.
type Config struct {
	MaxConcurrent      int      `json:"max_concurrent"`
	AdmissionInterval  Duration `json:"admission_interval"`
	RetentionInterval  Duration `json:"retention_interval"`
	RetentionAge       Duration `json:"retention_age"`
	SignalPollInterval Duration `json:"signal_poll_interval"`
	RunDeadline        Duration `json:"run_deadline"`
	ExecDeadline       Duration `json:"exec_deadline"`
	MemoryLimitBytes   int64    `json:"memory_limit_bytes"`
	MaxStackKB         int      `json:"max_stack_kb"`
	IgnorePatterns     []string `json:"ignore_patterns"`
}

// Duration wraps time.Duration so config files can use "30s"-style strings
// instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns production defaults.
func Default() Config {
	return Config{
		MaxConcurrent:      4,
		AdmissionInterval:  Duration(500 * time.Millisecond),
		RetentionInterval:  Duration(time.Minute),
		RetentionAge:       Duration(24 * time.Hour),
		SignalPollInterval: Duration(time.Second),
		RunDeadline:        Duration(10 * time.Minute),
		ExecDeadline:       Duration(60 * time.Second),
		MemoryLimitBytes:   512 << 20,
		MaxStackKB:         8192,
		IgnorePatterns:     []string{".agentfs", ".git", ".jj", "__pycache__", "node_modules"},
	}
}

// Load reads a Config from path, falling back to Default() if the file
// does not exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, cairnerr.IO("cfg.Load", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, cairnerr.Invalid("cfg.Load", err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cairnerr.IO("cfg.Save", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return cairnerr.Invalid("cfg.Save", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return cairnerr.IO("cfg.Save", err)
	}
	return nil
}

// Home returns the default cairn home directory, $CAIRN_HOME or
// ~/.cairn.
func Home() (string, error) {
	if v := os.Getenv("CAIRN_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", cairnerr.IO("cfg.Home", err)
	}
	return filepath.Join(home, ".cairn"), nil
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the compaction engine and the
// truncation store. Zero values mean "use the default".
type Config struct {
	// ContextWindow is the model's context size in tokens.
	ContextWindow int `yaml:"context_window"`

	// TriggerRatio and TargetRatio bound the compression loop.
	TriggerRatio float64 `yaml:"trigger_ratio"`
	TargetRatio  float64 `yaml:"target_ratio"`

	// UseBPE switches token estimation from the chars-per-token heuristic
	// to a real cl100k_base count.
	UseBPE bool `yaml:"use_bpe"`

	// InjectNotice adds a synthetic system note describing what was
	// compressed. Off by default so message counts stay predictable.
	InjectNotice bool `yaml:"inject_notice"`

	Truncation TruncationConfig `yaml:"truncation"`
	Dump       DumpConfig       `yaml:"dump"`

	// LogLevel follows zerolog level names (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// TruncationConfig selects the backing store for truncated originals.
type TruncationConfig struct {
	// Backend is one of "memory", "file", "sqlite".
	Backend string `yaml:"backend"`

	// Path is the sqlite database file or the file-store directory.
	Path string `yaml:"path"`

	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DumpConfig controls before/after debug dumps.
type DumpConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

// Default returns the configuration used when no file or env overrides are
// present.
func Default() Config {
	return Config{
		ContextWindow: DefaultContextWindow,
		TriggerRatio:  DefaultTriggerRatio,
		TargetRatio:   DefaultTargetRatio,
		Truncation: TruncationConfig{
			Backend:       "memory",
			TTL:           DefaultTruncationTTL,
			SweepInterval: DefaultSweepInterval,
		},
		Dump: DumpConfig{
			Dir:      "dumps",
			MaxFiles: DefaultDumpMaxFiles,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, expands ${VAR} and ${VAR:-default}
// references, applies environment overrides, and validates. A missing file
// is not an error; defaults plus env apply.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- trusted config path
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			expanded := ExpandEnvWithDefaults(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects ratio settings the compression loop cannot honor.
func (c Config) Validate() error {
	if c.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive, got %d", c.ContextWindow)
	}
	if c.TriggerRatio <= 0 || c.TriggerRatio > 1 {
		return fmt.Errorf("trigger_ratio must be in (0, 1], got %g", c.TriggerRatio)
	}
	if c.TargetRatio <= 0 || c.TargetRatio >= c.TriggerRatio {
		return fmt.Errorf("target_ratio must be in (0, trigger_ratio), got %g", c.TargetRatio)
	}
	switch c.Truncation.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown truncation backend %q", c.Truncation.Backend)
	}
	return nil
}

// applyEnv overlays COMPACTION_* variables on top of file values.
func applyEnv(c *Config) {
	if v := os.Getenv("COMPACTION_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ContextWindow = n
		}
	}
	if v := os.Getenv("COMPACTION_TRIGGER_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TriggerRatio = f
		}
	}
	if v := os.Getenv("COMPACTION_TARGET_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TargetRatio = f
		}
	}
	if v := os.Getenv("COMPACTION_USE_BPE"); v != "" {
		c.UseBPE = v == "true" || v == "1"
	}
	if v := os.Getenv("COMPACTION_INJECT_NOTICE"); v != "" {
		c.InjectNotice = v == "true" || v == "1"
	}
	if v := os.Getenv("COMPACTION_TRUNCATION_BACKEND"); v != "" {
		c.Truncation.Backend = v
	}
	if v := os.Getenv("COMPACTION_TRUNCATION_PATH"); v != "" {
		c.Truncation.Path = v
	}
	if v := os.Getenv("COMPACTION_TRUNCATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Truncation.TTL = d
		}
	}
	if v := os.Getenv("COMPACTION_DUMP_DIR"); v != "" {
		c.Dump.Enabled = true
		c.Dump.Dir = v
	}
	if v := os.Getenv("COMPACTION_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references in s.
// Unset variables without a default expand to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[3]
	})
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/config/loader"
	"github.com/dshills/evmdebug/internal/trace"
)

// Config is the complete evmdebug configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig configures the debug adapter server.
type ServerConfig struct {
	// Listen is a TCP address. Empty serves a single session on stdio.
	Listen string `json:"listen"`

	// StopOnEntry applies when a launch request does not say.
	StopOnEntry bool `json:"stopOnEntry"`

	// EventBuffer is the capacity of each session's runtime event channel.
	EventBuffer int `json:"eventBuffer"`
}

// EngineConfig selects and configures the trace engine.
type EngineConfig struct {
	Name          string   `json:"name"`
	ProviderURL   string   `json:"providerURL"`
	TraceTimeout  Duration `json:"traceTimeout"`
	EnableMemory  bool     `json:"enableMemory"`
	EnableStorage bool     `json:"enableStorage"`
}

// ArtifactsConfig configures the compiled-artifact store.
type ArtifactsConfig struct {
	BuildDir  string `json:"buildDir"`
	CacheSize int    `json:"cacheSize"`
	Watch     bool   `json:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// File receives logs instead of stderr when set.
	File string `json:"file"`
}

// Log formats.
const (
	FormatTerminal = "terminal"
	FormatLogfmt   = "logfmt"
	FormatJSON     = "json"
)

// Duration is a time.Duration read from "30s"-style strings or from
// nanosecond numbers.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			StopOnEntry: true,
			EventBuffer: 64,
		},
		Engine: EngineConfig{
			Name:        "evm",
			ProviderURL: "http://127.0.0.1:8545",
		},
		Artifacts: ArtifactsConfig{
			BuildDir:  filepath.Join("build", "contracts"),
			CacheSize: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatTerminal,
		},
	}
}

// Load builds the configuration from the defaults, the file at path (when
// path is not empty) and EVMDEBUG_* environment variables, in that order.
func Load(path string) (*Config, error) {
	return load(loader.DefaultFS(), path, loader.NewEnvLoader(loader.EnvPrefix))
}

func load(fsys loader.FileSystem, path string, env loader.Loader) (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := fsys.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		l, err := loader.ForFile(fsys, path)
		if err != nil {
			return nil, err
		}
		file, err := l.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if env != nil {
		vars, err := env.Load()
		if err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
		like, err := toMap(Default())
		if err != nil {
			return nil, err
		}
		if vars, err = loader.Coerce(vars, like); err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, vars)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged config: %w", err)
	}
	cfg := new(Config)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &ValidationError{Path: "config", Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks every setting and reports all failures together.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	if c.Server.EventBuffer < 0 {
		invalid("server.eventBuffer", "must not be negative", c.Server.EventBuffer)
	}
	if c.Engine.Name == "" {
		invalid("engine.name", "must not be empty", c.Engine.Name)
	}
	if c.Engine.TraceTimeout < 0 {
		invalid("engine.traceTimeout", "must not be negative", c.Engine.TraceTimeout)
	}
	if c.Artifacts.CacheSize <= 0 {
		invalid("artifacts.cacheSize", "must be positive", c.Artifacts.CacheSize)
	}
	if c.Artifacts.BuildDir == "" {
		invalid("artifacts.buildDir", "must not be empty", c.Artifacts.BuildDir)
	}
	if _, err := log.LvlFromString(c.Log.Level); err != nil {
		invalid("log.level", "must be one of trace, debug, info, warn, error, crit", c.Log.Level)
	}
	switch c.Log.Format {
	case FormatTerminal, FormatLogfmt, FormatJSON:
	default:
		invalid("log.format", "must be one of terminal, logfmt, json", c.Log.Format)
	}
	return errors.Join(errs...)
}

// StoreConfig returns the artifact store settings.
func (c *Config) StoreConfig() artifacts.StoreConfig {
	return artifacts.StoreConfig{
		BuildDir:  c.Artifacts.BuildDir,
		CacheSize: c.Artifacts.CacheSize,
		Watch:     c.Artifacts.Watch,
	}
}

// TraceConfig returns the settings handed to trace engine factories.
func (c *Config) TraceConfig(logger log.Logger) trace.Config {
	return trace.Config{
		EnableMemory:  c.Engine.EnableMemory,
		EnableStorage: c.Engine.EnableStorage,
		TraceTimeout:  c.Engine.TraceTimeout.Std(),
		Logger:        logger,
	}
}

// UserConfigPath returns the default config file location, or "" when the
// user config directory is unknown or holds no evmdebug config.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, "evmdebug", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

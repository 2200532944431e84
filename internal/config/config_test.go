package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dshills/evmdebug/internal/config/loader"
)

type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(s), nil
}

func (m memFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m[path]; !ok {
		return nil, fs.ErrNotExist
	}
	return os.Stat(os.TempDir())
}

type mapLoader map[string]any

func (m mapLoader) Load() (map[string]any, error) { return m, nil }

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.Name != "evm" {
		t.Errorf("Engine.Name = %q, want evm", cfg.Engine.Name)
	}
	if !cfg.Server.StopOnEntry {
		t.Error("StopOnEntry should default to true")
	}
	if cfg.Artifacts.CacheSize != 16 {
		t.Errorf("CacheSize = %d, want 16", cfg.Artifacts.CacheSize)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := load(memFS{}, "", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.ProviderURL != Default().Engine.ProviderURL {
		t.Errorf("ProviderURL = %q", cfg.Engine.ProviderURL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := load(memFS{}, "/nope.toml", nil)
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestLoad_TOMLThenEnv(t *testing.T) {
	fsys := memFS{"/evmdebug.toml": `
[engine]
name = "fixture"
traceTimeout = "45s"
providerURL = "http://file:8545"

[artifacts]
cacheSize = 4
watch = true

[log]
format = "json"
`}
	env := mapLoader{
		"engine": map[string]any{"providerURL": "http://env:8545"},
		"server": map[string]any{"eventBuffer": int64(8)},
	}

	cfg, err := load(fsys, "/evmdebug.toml", env)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.Name != "fixture" {
		t.Errorf("Engine.Name = %q, want fixture", cfg.Engine.Name)
	}
	if cfg.Engine.TraceTimeout.Std() != 45*time.Second {
		t.Errorf("TraceTimeout = %v, want 45s", cfg.Engine.TraceTimeout)
	}
	if cfg.Engine.ProviderURL != "http://env:8545" {
		t.Errorf("ProviderURL = %q, env should win", cfg.Engine.ProviderURL)
	}
	if cfg.Server.EventBuffer != 8 {
		t.Errorf("EventBuffer = %d, want 8", cfg.Server.EventBuffer)
	}
	if !cfg.Artifacts.Watch || cfg.Artifacts.CacheSize != 4 {
		t.Errorf("Artifacts = %+v", cfg.Artifacts)
	}
	// untouched defaults survive the merge
	if cfg.Artifacts.BuildDir != filepath.Join("build", "contracts") {
		t.Errorf("BuildDir = %q", cfg.Artifacts.BuildDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != FormatJSON {
		t.Errorf("Log = %+v", cfg.Log)
	}

	sc := cfg.StoreConfig()
	if sc.CacheSize != 4 || !sc.Watch {
		t.Errorf("StoreConfig = %+v", sc)
	}
	if tc := cfg.TraceConfig(nil); tc.TraceTimeout != 45*time.Second {
		t.Errorf("TraceConfig.TraceTimeout = %v", tc.TraceTimeout)
	}
}

func TestLoad_YAML(t *testing.T) {
	fsys := memFS{"/evmdebug.yaml": "server:\n  listen: \":4711\"\n  stopOnEntry: false\n"}
	cfg, err := load(fsys, "/evmdebug.yaml", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":4711" || cfg.Server.StopOnEntry {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestLoad_EnvLoader(t *testing.T) {
	t.Setenv("EVMDEBUG_TRACE_TIMEOUT", "2m")
	t.Setenv("EVMDEBUG_STOP_ON_ENTRY", "false")
	t.Setenv("EVMDEBUG_ENGINE_ENABLE_STORAGE", "true")

	cfg, err := load(memFS{}, "", loader.NewEnvLoader(loader.EnvPrefix))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.TraceTimeout.Std() != 2*time.Minute {
		t.Errorf("TraceTimeout = %v", cfg.Engine.TraceTimeout)
	}
	if cfg.Server.StopOnEntry {
		t.Error("StopOnEntry should be false")
	}
	if !cfg.Engine.EnableStorage {
		t.Error("EnableStorage should be true")
	}
}

func TestLoad_EnvKeepsStringSettings(t *testing.T) {
	t.Setenv("EVMDEBUG_BUILD_DIR", "on")
	t.Setenv("EVMDEBUG_ENGINE", "1")

	cfg, err := load(memFS{}, "", loader.NewEnvLoader(loader.EnvPrefix))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Artifacts.BuildDir != "on" {
		t.Errorf("BuildDir = %q, want on", cfg.Artifacts.BuildDir)
	}
	if cfg.Engine.Name != "1" {
		t.Errorf("Engine.Name = %q, want 1", cfg.Engine.Name)
	}
}

func TestLoad_EnvDurationNeedsUnit(t *testing.T) {
	t.Setenv("EVMDEBUG_TRACE_TIMEOUT", "30")

	_, err := load(memFS{}, "", loader.NewEnvLoader(loader.EnvPrefix))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want validation failure", err)
	}
}

func TestLoad_EnvBadBool(t *testing.T) {
	t.Setenv("EVMDEBUG_STOP_ON_ENTRY", "maybe")

	_, err := load(memFS{}, "", loader.NewEnvLoader(loader.EnvPrefix))
	var pe *loader.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *loader.ParseError", err)
	}
	if !strings.Contains(err.Error(), "server.stopOnEntry") {
		t.Errorf("error %q does not name the setting", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	fsys := memFS{"/bad.toml": "[log]\nlevel = \"loud\"\n[artifacts]\ncacheSize = 0\n"}
	_, err := load(fsys, "/bad.toml", nil)
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want validation failure", err)
	}
	msg := err.Error()
	for _, want := range []string{"log.level", "artifacts.cacheSize"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoad_ParseError(t *testing.T) {
	fsys := memFS{"/bad.toml": "[engine\n"}
	_, err := load(fsys, "/bad.toml", nil)
	var pe *loader.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *loader.ParseError", err)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1.5s"`)); err != nil || d.Std() != 1500*time.Millisecond {
		t.Errorf("string form: %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte(`2000`)); err != nil || d.Std() != 2000 {
		t.Errorf("number form: %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte(`"soon"`)); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := LogConfig{Level: "warn", Format: FormatLogfmt}.Handler(&buf)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	l := log.New()
	l.SetHandler(h)
	l.Info("hidden")
	l.Warn("shown", "tx", "0x1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record passed a warn filter: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "tx=0x1") {
		t.Errorf("output = %q", out)
	}

	if _, err := (LogConfig{Level: "info", Format: "xml"}).Handler(&buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

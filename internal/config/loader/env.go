package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of evmdebug environment variables.
const EnvPrefix = "EVMDEBUG_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix  string
	mapping map[string]string // env var -> config path
	environ func() []string
}

// NewEnvLoader creates an environment loader. The prefix includes the
// trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: defaultEnvMapping(),
		environ: os.Environ,
	}
}

// defaultEnvMapping covers names whose camelCase cannot be derived from
// the underscore form.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"EVMDEBUG_PROVIDER_URL":    "engine.providerURL",
		"EVMDEBUG_ENGINE":          "engine.name",
		"EVMDEBUG_LOG_LEVEL":       "log.level",
		"EVMDEBUG_LISTEN":          "server.listen",
		"EVMDEBUG_BUILD_DIR":       "artifacts.buildDir",
		"EVMDEBUG_STOP_ON_ENTRY":   "server.stopOnEntry",
		"EVMDEBUG_TRACE_TIMEOUT":   "engine.traceTimeout",
		"EVMDEBUG_ARTIFACTS_WATCH": "artifacts.watch",
	}
}

// Load implements Loader. Values are returned as strings; Coerce converts
// them to the types of the settings they override. Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		setByPath(config, path, value)
	}
	return config, nil
}

// AddMapping adds a custom environment variable mapping.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	l.mapping[envVar] = configPath
}

// envToPath converts EVMDEBUG_ENGINE_ENABLE_MEMORY to engine.enableMemory.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")
	section := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return section
	}

	setting := strings.ToLower(parts[1])
	for _, part := range parts[2:] {
		if part != "" {
			setting += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return section + "." + setting
}

// Coerce converts the string leaves of values to the type of the value at
// the same path in like. Leaves with no counterpart in like, or whose
// counterpart is a string, are kept as given; durations are strings in like
// and are parsed by the config decoder.
func Coerce(values, like map[string]any) (map[string]any, error) {
	return coerce("", values, like)
}

func coerce(prefix string, values, like map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for key, v := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := v.(type) {
		case map[string]any:
			sub, _ := like[key].(map[string]any)
			c, err := coerce(path, v, sub)
			if err != nil {
				return nil, err
			}
			out[key] = c
		case string:
			c, err := coerceValue(v, like[key])
			if err != nil {
				return nil, &ParseError{Path: "environment", Message: fmt.Sprintf("%s: %v", path, err), Err: err}
			}
			out[key] = c
		default:
			out[key] = v
		}
	}
	return out, nil
}

// coerceValue parses s as the type of target.
func coerceValue(s string, target any) (any, error) {
	switch target.(type) {
	case bool:
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", s)
	case float64, int, int64:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("%q is not a number", s)
	default:
		return s, nil
	}
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

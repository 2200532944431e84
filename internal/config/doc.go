// Package config provides the configuration of the evmdebug adapter.
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Command Line Flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. Environment Variables   │  ← EVMDEBUG_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← --config, or the user config dir
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Flags are applied by the command after Load returns.
//
// # Sections
//
//	[server]     listen, stopOnEntry, eventBuffer
//	[engine]     name, providerURL, traceTimeout, enableMemory, enableStorage
//	[artifacts]  buildDir, cacheSize, watch
//	[log]        level, format, file
//
// # Environment Variables
//
// EVMDEBUG_SECTION_SETTING maps to section.setting, with the remaining words
// joined in camelCase (EVMDEBUG_ENGINE_ENABLE_MEMORY → engine.enableMemory).
// Short forms such as EVMDEBUG_PROVIDER_URL and EVMDEBUG_LOG_LEVEL are also
// recognized.
//
// Values are parsed by the type of the setting they override: booleans
// accept true/false, yes/no, on/off and 1/0; numbers must be integers or
// decimals; durations need a unit (30s, 2m). String settings take the value
// as written.
package config

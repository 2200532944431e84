// Package loader reads evmdebug configuration sources into nested maps.
//
// File sources are TOML or YAML, chosen by extension. Environment variables
// with the EVMDEBUG_ prefix form the last source. Maps are layered with
// DeepMerge, later sources winning.
package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads one configuration source.
type Loader interface {
	// Load returns the source as a map, or nil, nil when the source does
	// not exist.
	Load() (map[string]any, error)
}

// FileSystem abstracts file access for tests.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the OS file system.
func DefaultFS() FileSystem {
	return OSFS{}
}

// ForFile returns the loader matching the extension of path.
func ForFile(fsys FileSystem, path string) (Loader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return NewTOMLLoaderWithFS(fsys, path), nil
	case ".yaml", ".yml":
		return NewYAMLLoaderWithFS(fsys, path), nil
	default:
		return nil, &ParseError{Path: path, Message: "unsupported config format, use .toml, .yaml or .yml"}
	}
}

// DeepMerge recursively merges src into dst. Values in src override values
// in dst; maps are merged, other values replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = srcVal
	}
	return dst
}

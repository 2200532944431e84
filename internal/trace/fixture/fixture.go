// Package fixture replays recorded transaction traces from JSON files. It
// needs no node and is used for offline debugging and in tests.
package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/evmdebug/internal/trace"
)

// Name is the engine name under which the fixture engine registers.
const Name = "fixture"

// TraceDir is the directory, relative to the working directory, searched for
// recorded traces.
var TraceDir = filepath.Join(".evmdebug", "traces")

// Frame is a recorded call stack entry.
type Frame struct {
	Address        string `json:"address,omitempty"`
	StorageAddress string `json:"storageAddress,omitempty"`
	ContractName   string `json:"contractName,omitempty"`
	PC             uint64 `json:"pc,omitempty"`
}

// Step is one recorded stop.
type Step struct {
	SourceID  int            `json:"sourceId"`
	Line      int            `json:"line"`
	Column    int            `json:"column"`
	Depth     int            `json:"depth"`
	PC        uint64         `json:"pc"`
	Fault     string         `json:"fault,omitempty"`
	CallStack []Frame        `json:"callStack,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Contract is a recorded contract description.
type Contract struct {
	Name       string `json:"name"`
	SourcePath string `json:"sourcePath"`
	Address    string `json:"address,omitempty"`
}

// SourceFile is a recorded source.
type SourceFile struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// Trace is a recorded transaction trace.
type Trace struct {
	TxHash       string              `json:"txHash"`
	Sources      []SourceFile        `json:"sources"`
	Contracts    []Contract          `json:"contracts"`
	Instructions []trace.Instruction `json:"instructions,omitempty"`
	Steps        []Step              `json:"steps"`
}

// Parse decodes a recorded trace. Numbers in variables keep their literal text.
func Parse(data []byte) (*Trace, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var t Trace
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &t, nil
}

// Load reads a recorded trace from path.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Engine attaches to traces recorded under a working directory.
type Engine struct {
	// Dir overrides the trace directory. When empty, TraceDir under the
	// launch working directory is used.
	Dir string
}

// NewEngine is the registry factory of the fixture engine.
func NewEngine(trace.Config) (trace.Engine, error) {
	return &Engine{}, nil
}

// Attach loads <txHash>.json from the trace directory.
func (e *Engine) Attach(ctx context.Context, txHash string, opts trace.AttachOptions) (trace.Session, error) {
	dir := e.Dir
	if dir == "" {
		dir = filepath.Join(opts.WorkingDirectory, TraceDir)
	}

	var lastErr error
	for _, name := range candidates(txHash) {
		t, err := Load(filepath.Join(dir, name+".json"))
		if err == nil {
			return NewSession(t), nil
		}
		lastErr = err
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("no recorded trace for %s: %w", txHash, lastErr)
}

func candidates(txHash string) []string {
	lower := strings.ToLower(txHash)
	if lower == txHash {
		return []string{txHash}
	}
	return []string{txHash, lower}
}

// Static returns an engine that attaches every transaction to t. Each
// attach starts a fresh replay.
func Static(t *Trace) trace.Engine {
	return trace.EngineFunc(func(context.Context, string, trace.AttachOptions) (trace.Session, error) {
		return NewSession(t), nil
	})
}

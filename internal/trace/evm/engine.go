// Package evm replays mined transactions from a JSON-RPC node. It fetches the
// struct-log trace with debug_traceTransaction, attributes every step to a
// call frame and maps it to source lines through the contracts' source maps.
package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/trace"
	"github.com/dshills/evmdebug/internal/trace/sourcemap"
)

// Name is the engine name under which the EVM engine registers.
const Name = "evm"

// Engine attaches to transactions through a node.
type Engine struct {
	config trace.Config
	log    log.Logger

	// Dial opens the node connection for a launch. It defaults to Dial.
	Dial func(ctx context.Context, url string) (Backend, error)
}

// NewEngine is the registry factory of the EVM engine.
func NewEngine(config trace.Config) (trace.Engine, error) {
	return New(config), nil
}

// New creates an engine dialing nodes over JSON-RPC.
func New(config trace.Config) *Engine {
	l := config.Logger
	if l == nil {
		l = log.Root()
	}
	return &Engine{
		config: config,
		log:    l.New("engine", Name),
		Dial:   Dial,
	}
}

// Attach fetches and decodes the trace of txHash.
func (e *Engine) Attach(ctx context.Context, txHash string, opts trace.AttachOptions) (trace.Session, error) {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return nil, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.BytesToHash(raw)

	if opts.ProviderURL == "" {
		return nil, errors.New("no provider url")
	}
	backend, err := e.Dial(ctx, opts.ProviderURL)
	if err != nil {
		return nil, err
	}

	s, err := e.attach(ctx, backend, hash, opts.Contracts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

func (e *Engine) attach(ctx context.Context, backend Backend, hash common.Hash, contracts []artifacts.Contract) (*Session, error) {
	tx, _, err := backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	networkID, err := backend.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch network id: %w", err)
	}

	traceCtx := ctx
	if e.config.TraceTimeout > 0 {
		var cancel context.CancelFunc
		traceCtx, cancel = context.WithTimeout(ctx, e.config.TraceTimeout)
		defer cancel()
	}
	result, err := backend.TraceTransaction(traceCtx, hash, TraceConfig{
		EnableMemory:   e.config.EnableMemory,
		DisableStorage: !e.config.EnableStorage,
	})
	if err != nil {
		return nil, err
	}

	r := newResolver(backend, contracts, networkID.String(), receipt.BlockNumber, e.log)

	root := &frame{}
	if to := tx.To(); to != nil {
		root.code, root.storage = *to, *to
	} else {
		root.creation = true
		root.code, root.storage = receipt.ContractAddress, receipt.ContractAddress
	}

	records := walkFrames(result.StructLogs, root)
	seen := make(map[*frame]bool)
	for _, rec := range records {
		for _, f := range rec.stack {
			if !seen[f] {
				seen[f] = true
				f.prog = r.program(ctx, f, tx)
			}
		}
	}

	e.log.Debug("Trace attached", "tx", hash, "steps", len(records),
		"failed", result.Failed, "status", receipt.Status, "network", networkID)

	return newSession(backend, r, records), nil
}

// resolver maps frame addresses to known contracts.
type resolver struct {
	backend Backend
	block   *big.Int
	log     log.Logger

	contracts []artifacts.Contract
	network   string
	byAddress map[common.Address]int // index into contracts
	resolved  map[common.Address]int
	programs  map[programKey]*program
	sources   map[int]*sourceFile
}

type programKey struct {
	contract int
	creation bool
}

type sourceFile struct {
	path  string
	lines *sourcemap.LineIndex
}

func newResolver(backend Backend, contracts []artifacts.Contract, network string, block *big.Int, logger log.Logger) *resolver {
	r := &resolver{
		backend:   backend,
		block:     block,
		log:       logger,
		contracts: contracts,
		network:   network,
		byAddress: make(map[common.Address]int),
		resolved:  make(map[common.Address]int),
		programs:  make(map[programKey]*program),
		sources:   make(map[int]*sourceFile),
	}
	for i, c := range contracts {
		if addr := c.AddressOn(network); common.IsHexAddress(addr) {
			r.byAddress[common.HexToAddress(addr)] = i
		}
		if c.FileIndex >= 0 && c.SourcePath != "" {
			if _, ok := r.sources[c.FileIndex]; !ok {
				r.sources[c.FileIndex] = &sourceFile{path: c.SourcePath, lines: sourcemap.NewLineIndex(c.Source)}
			}
		}
	}
	return r
}

// program returns the program executing in f, or nil when unknown.
func (r *resolver) program(ctx context.Context, f *frame, tx *types.Transaction) *program {
	idx, ok := r.contractAt(ctx, f.code)
	if !ok && f.creation && f.depth == 0 && tx.To() == nil {
		idx, ok = r.contractForInitCode(tx.Data())
	}
	if !ok {
		r.log.Debug("Unknown contract code", "address", f.code)
		return nil
	}
	key := programKey{contract: idx, creation: f.creation}
	if p, ok := r.programs[key]; ok {
		return p
	}
	p, err := newProgram(r.contracts[idx], f.creation)
	if err != nil {
		r.log.Warn("Cannot decode contract", "contract", r.contracts[idx].Name, "err", err)
		return nil
	}
	r.programs[key] = p
	return p
}

// contractAt resolves addr by network address, then by comparing its code.
func (r *resolver) contractAt(ctx context.Context, addr common.Address) (int, bool) {
	if addr == (common.Address{}) {
		return 0, false
	}
	if i, ok := r.byAddress[addr]; ok {
		return i, true
	}
	if i, ok := r.resolved[addr]; ok {
		return i, i >= 0
	}

	r.resolved[addr] = -1
	code, err := r.backend.CodeAt(ctx, addr, r.block)
	if err != nil {
		r.log.Warn("Cannot fetch code", "address", addr, "err", err)
		return 0, false
	}
	for i, c := range r.contracts {
		known, err := hexutil.Decode(c.DeployedBytecode)
		if err != nil {
			continue
		}
		if sameCode(code, known) {
			r.resolved[addr] = i
			return i, true
		}
	}
	return 0, false
}

// contractForInitCode finds the contract whose creation code prefixes data.
func (r *resolver) contractForInitCode(data []byte) (int, bool) {
	for i, c := range r.contracts {
		init, err := hexutil.Decode(c.Bytecode)
		if err != nil || len(init) == 0 {
			continue
		}
		if bytes.HasPrefix(data, stripMetadata(init)) {
			return i, true
		}
	}
	return 0, false
}

// contractInfos lists every contract with the address it is known under on
// this network, plus one entry per address resolved by code.
func (r *resolver) contractInfos() []trace.ContractInfo {
	out := make([]trace.ContractInfo, 0, len(r.contracts)+len(r.resolved))
	for _, c := range r.contracts {
		out = append(out, trace.ContractInfo{
			Name:       c.Name,
			SourcePath: c.SourcePath,
			Address:    c.AddressOn(r.network),
		})
	}
	for addr, i := range r.resolved {
		if i < 0 {
			continue
		}
		if _, dup := r.byAddress[addr]; dup {
			continue
		}
		c := r.contracts[i]
		out = append(out, trace.ContractInfo{Name: c.Name, SourcePath: c.SourcePath, Address: addr.Hex()})
	}
	return out
}

// location maps pc in p to source.
func (r *resolver) location(p *program, pc uint64) (trace.Location, byte) {
	if p == nil {
		return trace.Location{}, 0
	}
	entry, ok := p.entry(pc)
	if !ok || !entry.Mapped() {
		return trace.Location{}, entry.Jump
	}
	src, ok := r.sources[entry.File]
	if !ok {
		return trace.Location{}, entry.Jump
	}
	line, col := src.lines.Position(entry.Start)
	return trace.Location{SourceID: entry.File, File: src.path, Line: line, Column: col}, entry.Jump
}

package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the node API the engine needs.
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	TraceTransaction(ctx context.Context, hash common.Hash, config TraceConfig) (*logger.ExecutionResult, error)
	Close()
}

// TraceConfig selects what the struct logger captures.
type TraceConfig struct {
	EnableMemory   bool `json:"enableMemory"`
	DisableStack   bool `json:"disableStack"`
	DisableStorage bool `json:"disableStorage"`
}

// rpcBackend talks to a node over JSON-RPC.
type rpcBackend struct {
	rpc *rpc.Client
	*ethclient.Client
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string) (Backend, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &rpcBackend{rpc: c, Client: ethclient.NewClient(c)}, nil
}

// TraceTransaction runs debug_traceTransaction with the struct logger.
func (b *rpcBackend) TraceTransaction(ctx context.Context, hash common.Hash, config TraceConfig) (*logger.ExecutionResult, error) {
	var result logger.ExecutionResult
	if err := b.rpc.CallContext(ctx, &result, "debug_traceTransaction", hash, config); err != nil {
		return nil, fmt.Errorf("debug_traceTransaction: %w", err)
	}
	return &result, nil
}

// Close closes the connection.
func (b *rpcBackend) Close() {
	b.rpc.Close()
}

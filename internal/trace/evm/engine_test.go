package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/trace"
)

var (
	callerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	calleeAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	txHash     = common.HexToHash("0x01")
)

// Caller: PUSH1 80, PUSH1 40, MSTORE, CALL, STOP. One source line per
// instruction, file 0.
var callerContract = artifacts.Contract{
	Name:              "Caller",
	SourcePath:        "/p/contracts/Caller.sol",
	Source:            "a\nb\nc\nd\ne\n",
	FileIndex:         0,
	DeployedBytecode:  "0x6080604052f100",
	DeployedSourceMap: "0:1:0:-:0;2:1;4:1;6:1;8:1",
	Networks:          map[string]string{"1337": callerAddr.Hex()},
}

// Callee: PUSH1 01, STOP. Resolved by code only.
var calleeContract = artifacts.Contract{
	Name:              "Callee",
	SourcePath:        "/p/contracts/Callee.sol",
	Source:            "x\ny\n",
	FileIndex:         1,
	DeployedBytecode:  "0x600100",
	DeployedSourceMap: "0:1:1:-:0;2:1",
	Networks:          map[string]string{},
}

type fakeBackend struct {
	tx      *types.Transaction
	receipt *types.Receipt
	code    map[common.Address][]byte
	result  *logger.ExecutionResult
	config  TraceConfig
	closed  bool
	codeCtx context.Context
}

func (b *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	if h != txHash {
		return nil, false, errors.New("not found")
	}
	return b.tx, false, nil
}

func (b *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return b.receipt, nil
}

func (b *fakeBackend) CodeAt(ctx context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	b.codeCtx = ctx
	return b.code[addr], nil
}

func (b *fakeBackend) NetworkID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (b *fakeBackend) TraceTransaction(_ context.Context, _ common.Hash, config TraceConfig) (*logger.ExecutionResult, error) {
	b.config = config
	return b.result, nil
}

func (b *fakeBackend) Close() { b.closed = true }

func structLog(pc uint64, op string, depth int, stack ...string) logger.StructLogRes {
	l := logger.StructLogRes{Pc: pc, Op: op, Depth: depth, Gas: 1000, GasCost: 3}
	if stack != nil {
		l.Stack = &stack
	}
	return l
}

func newFakeBackend() *fakeBackend {
	to := callerAddr
	storage := map[string]string{"0x00": "0x2a"}
	logs := []logger.StructLogRes{
		structLog(0, "PUSH1", 1),
		structLog(2, "PUSH1", 1, "0x80"),
		structLog(4, "MSTORE", 1, "0x80", "0x40"),
		structLog(5, "CALL", 1, "0x0", "0x0", "0x0", "0x0", "0x0", calleeAddr.Hex(), "0x5000"),
		structLog(0, "PUSH1", 2),
		structLog(2, "STOP", 2, "0x1"),
		structLog(6, "STOP", 1, "0x1"),
	}
	logs[6].Storage = &storage

	return &fakeBackend{
		tx:      types.NewTx(&types.LegacyTx{To: &to, Gas: 100000}),
		receipt: &types.Receipt{BlockNumber: big.NewInt(7), Status: types.ReceiptStatusSuccessful},
		code: map[common.Address][]byte{
			calleeAddr: common.FromHex("0x600100"),
		},
		result: &logger.ExecutionResult{Gas: 21000, StructLogs: logs},
	}
}

func attachFake(t *testing.T, b *fakeBackend, cfg trace.Config) *Session {
	t.Helper()
	quiet := log.New()
	quiet.SetHandler(log.DiscardHandler())
	cfg.Logger = quiet

	e := New(cfg)
	e.Dial = func(context.Context, string) (Backend, error) { return b, nil }

	s, err := e.Attach(context.Background(), txHash.Hex(), trace.AttachOptions{
		Contracts:   []artifacts.Contract{callerContract, calleeContract},
		ProviderURL: "http://node",
	})
	require.NoError(t, err)
	return s.(*Session)
}

func TestAttachAndStep(t *testing.T) {
	b := newFakeBackend()
	s := attachFake(t, b, trace.Config{EnableStorage: true})
	assert.False(t, b.config.DisableStorage)
	assert.False(t, b.config.EnableMemory)

	require.Equal(t, []trace.Source{
		{ID: 0, Path: callerContract.SourcePath},
		{ID: 1, Path: calleeContract.SourcePath},
	}, s.Sources())

	type pos struct {
		file string
		line int
	}
	var got []pos
	for !s.Finished() {
		loc := s.CurrentLocation()
		got = append(got, pos{loc.File, loc.Line})
		s.StepInto()
	}
	assert.Equal(t, []pos{
		{callerContract.SourcePath, 1},
		{callerContract.SourcePath, 2},
		{callerContract.SourcePath, 3},
		{callerContract.SourcePath, 4},
		{calleeContract.SourcePath, 1},
		{calleeContract.SourcePath, 2},
		{callerContract.SourcePath, 5},
	}, got)

	require.NoError(t, s.Close())
	assert.True(t, b.closed)
}

func TestStepNextSkipsCall(t *testing.T) {
	s := attachFake(t, newFakeBackend(), trace.Config{})

	s.StepNext()
	s.StepNext()
	s.StepNext()
	require.Equal(t, 4, s.CurrentLocation().Line)

	s.StepNext()
	loc := s.CurrentLocation()
	assert.Equal(t, callerContract.SourcePath, loc.File)
	assert.Equal(t, 5, loc.Line)
}

func TestCallStackInCallee(t *testing.T) {
	s := attachFake(t, newFakeBackend(), trace.Config{})
	require.NoError(t, s.AddBreakpoint(trace.Breakpoint{SourceID: 1, Line: 2}))
	assert.Error(t, s.AddBreakpoint(trace.Breakpoint{SourceID: 9, Line: 1}))

	h := s.ContinueUntilBreakpoint()
	require.Equal(t, trace.HaltBreakpoint, h.Reason)

	stack := s.CallStack()
	require.Len(t, stack, 2)
	assert.Equal(t, callerAddr.Hex(), stack[0].Address)
	assert.Equal(t, "Caller", stack[0].ContractName)
	assert.Equal(t, uint64(5), stack[0].PC)
	assert.Equal(t, calleeAddr.Hex(), stack[1].Address)
	assert.Equal(t, calleeAddr.Hex(), stack[1].StorageAddress)
	assert.Equal(t, "Callee", stack[1].ContractName)
	assert.Equal(t, uint64(2), stack[1].PC)
	assert.Equal(t, 1, s.CurrentStep().Depth)

	// the callee was resolved by code and is listed under its address
	var found bool
	for _, c := range s.Contracts() {
		if c.Name == "Callee" && c.Address == calleeAddr.Hex() {
			found = true
		}
	}
	assert.True(t, found)

	in, ok := s.CurrentInstruction()
	require.True(t, ok)
	assert.Equal(t, "STOP", in.Op)
	assert.Len(t, s.Instructions(), 2)
}

type ctxKey struct{}

func TestAttachContextReachesCodeLookup(t *testing.T) {
	b := newFakeBackend()
	quiet := log.New()
	quiet.SetHandler(log.DiscardHandler())
	e := New(trace.Config{Logger: quiet})
	e.Dial = func(context.Context, string) (Backend, error) { return b, nil }

	ctx := context.WithValue(context.Background(), ctxKey{}, "attach")
	s, err := e.Attach(ctx, txHash.Hex(), trace.AttachOptions{
		Contracts:   []artifacts.Contract{callerContract, calleeContract},
		ProviderURL: "http://node",
	})
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, b.codeCtx)
	assert.Equal(t, "attach", b.codeCtx.Value(ctxKey{}))
}

func TestVariablesSnapshot(t *testing.T) {
	s := attachFake(t, newFakeBackend(), trace.Config{EnableStorage: true})
	for !s.Finished() && s.CurrentLocation().Line != 5 {
		s.StepInto()
	}

	vars, err := s.Variables()
	require.NoError(t, err)

	contract := vars["contract"].(map[string]any)
	assert.Equal(t, "Caller", contract["name"])
	step := vars["step"].(map[string]any)
	assert.Equal(t, "STOP", step["op"])
	assert.Equal(t, uint64(6), step["pc"])

	stack := vars["stack"].(map[string]any)
	top := stack["0"].(map[string]any)
	assert.Equal(t, "0x1", top["hex"])
	assert.Equal(t, "1", top["decimal"])

	storage := vars["storage"].(map[string]any)
	assert.Equal(t, "0x2a", storage["0x00"])
}

func TestFaultStopsContinue(t *testing.T) {
	b := newFakeBackend()
	b.result.StructLogs[5].Error = "out of gas"
	s := attachFake(t, b, trace.Config{})

	h := s.ContinueUntilBreakpoint()
	assert.Equal(t, trace.HaltFault, h.Reason)
	assert.Equal(t, "out of gas", h.Fault)
	assert.Equal(t, calleeContract.SourcePath, s.CurrentLocation().File)
}

func TestAttachRejectsBadHash(t *testing.T) {
	e := New(trace.Config{})
	_, err := e.Attach(context.Background(), "0x1234", trace.AttachOptions{ProviderURL: "http://node"})
	assert.Error(t, err)

	_, err = e.Attach(context.Background(), txHash.Hex(), trace.AttachOptions{})
	assert.Error(t, err)
}

func TestAttachClosesBackendOnError(t *testing.T) {
	b := newFakeBackend()
	e := New(trace.Config{})
	e.Dial = func(context.Context, string) (Backend, error) { return b, nil }

	_, err := e.Attach(context.Background(), common.HexToHash("0x02").Hex(), trace.AttachOptions{ProviderURL: "x"})
	require.Error(t, err)
	assert.True(t, b.closed)
}

func TestDisassemble(t *testing.T) {
	ins := Disassemble(common.FromHex("0x6080604052617fff00"))
	require.Len(t, ins, 5)
	assert.Equal(t, trace.Instruction{PC: 0, Op: "PUSH1", Argument: "0x80"}, ins[0])
	assert.Equal(t, trace.Instruction{PC: 4, Op: "MSTORE"}, ins[2])
	assert.Equal(t, trace.Instruction{PC: 5, Op: "PUSH2", Argument: "0x7fff"}, ins[3])
	assert.Equal(t, uint64(8), ins[4].PC)

	// truncated push argument
	ins = Disassemble([]byte{0x61, 0x01})
	require.Len(t, ins, 1)
	assert.Equal(t, "0x01", ins[0].Argument)
}

func TestStripMetadata(t *testing.T) {
	code := []byte{0x60, 0x01, 0x00, 0xa1, 0xa2, 0x00, 0x02}
	assert.Equal(t, []byte{0x60, 0x01, 0x00}, stripMetadata(code))
	assert.True(t, sameCode(code, []byte{0x60, 0x01, 0x00, 0xb1, 0xb2, 0x00, 0x02}))

	short := []byte{0x60, 0xff}
	assert.Equal(t, short, stripMetadata(short))
	assert.False(t, sameCode(nil, short))
}

func TestWalkFramesPatchesCreatedAddress(t *testing.T) {
	created := "0x00000000000000000000000000000000000000cc"
	logs := []logger.StructLogRes{
		structLog(0, "CREATE", 1, "0x0", "0x0", "0x0"),
		structLog(0, "PUSH1", 2),
		structLog(2, "RETURN", 2),
		structLog(1, "POP", 1, created),
		structLog(2, "DELEGATECALL", 1, "0x0", "0x0", "0x0", "0x0", calleeAddr.Hex(), "0x5000"),
		structLog(0, "STOP", 2),
	}
	root := &frame{code: callerAddr, storage: callerAddr}
	records := walkFrames(logs, root)
	require.Len(t, records, 6)

	child := records[1].stack[1]
	assert.True(t, child.creation)
	assert.Equal(t, common.HexToAddress(created), child.code)
	assert.Len(t, records[3].stack, 1)

	delegate := records[5].stack[1]
	assert.Equal(t, calleeAddr, delegate.code)
	assert.Equal(t, callerAddr, delegate.storage)
	assert.Equal(t, 1, delegate.depth)
}

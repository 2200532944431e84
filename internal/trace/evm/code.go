package evm

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/trace"
	"github.com/dshills/evmdebug/internal/trace/sourcemap"
)

// Disassemble decodes code into instructions. PUSH arguments running past the
// end of code are truncated.
func Disassemble(code []byte) []trace.Instruction {
	var out []trace.Instruction
	for pc := 0; pc < len(code); {
		op := vm.OpCode(code[pc])
		in := trace.Instruction{PC: uint64(pc), Op: op.String()}
		pc++
		if op >= vm.PUSH1 && op <= vm.PUSH32 {
			end := min(pc+int(op-vm.PUSH1)+1, len(code))
			in.Argument = hexutil.Encode(code[pc:end])
			pc = end
		}
		out = append(out, in)
	}
	return out
}

// stripMetadata removes the trailing CBOR metadata solc appends to runtime
// code. Its length is stored big-endian in the last two bytes.
func stripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:])) + 2
	if n > len(code) {
		return code
	}
	return code[:len(code)-n]
}

// sameCode compares two runtime codes ignoring metadata.
func sameCode(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return bytes.Equal(stripMetadata(a), stripMetadata(b))
}

// program is one contract's code with its instruction and source-map tables.
type program struct {
	contract     artifacts.Contract
	instructions []trace.Instruction
	index        map[uint64]int
	entries      []sourcemap.Entry
}

// newProgram builds the tables of contract. creation selects the creation
// bytecode instead of the runtime bytecode.
func newProgram(c artifacts.Contract, creation bool) (*program, error) {
	hexCode, smap := c.DeployedBytecode, c.DeployedSourceMap
	if creation {
		hexCode, smap = c.Bytecode, c.SourceMap
	}

	code, err := hexutil.Decode(hexCode)
	if err != nil {
		return nil, err
	}
	entries, err := sourcemap.Decode(smap)
	if err != nil {
		return nil, err
	}

	p := &program{
		contract:     c,
		instructions: Disassemble(code),
		entries:      entries,
	}
	p.index = make(map[uint64]int, len(p.instructions))
	for i, in := range p.instructions {
		p.index[in.PC] = i
	}
	return p, nil
}

// entry returns the source-map entry of the instruction at pc.
func (p *program) entry(pc uint64) (sourcemap.Entry, bool) {
	i, ok := p.index[pc]
	if !ok || i >= len(p.entries) {
		return sourcemap.Entry{}, false
	}
	return p.entries[i], true
}

// instruction returns the instruction at pc.
func (p *program) instruction(pc uint64) (trace.Instruction, bool) {
	i, ok := p.index[pc]
	if !ok {
		return trace.Instruction{}, false
	}
	return p.instructions[i], true
}

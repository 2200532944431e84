// Package artifacts loads compiled contract artifacts from a project build
// directory.
package artifacts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoArtifacts is returned when a build directory holds no usable artifact.
var ErrNoArtifacts = errors.New("no contract artifacts found")

// Contract is one compiled contract as recorded by the build tool.
type Contract struct {
	Name       string
	SourcePath string
	Source     string

	// FileIndex is the source-map file index of SourcePath, or -1 if unknown.
	FileIndex int

	Bytecode          string
	DeployedBytecode  string
	SourceMap         string
	DeployedSourceMap string

	ABI string

	// Networks maps a network id to the deployed address on that network.
	Networks map[string]string
}

// AddressOn returns the deployed address on networkID, or "".
func (c Contract) AddressOn(networkID string) string {
	return c.Networks[networkID]
}

// IsDeployed reports whether the contract has an address on any network.
func (c Contract) IsDeployed() bool {
	return len(c.Networks) > 0
}

// ParseArtifact decodes a Truffle-style artifact JSON document.
func ParseArtifact(data []byte) (Contract, error) {
	if !gjson.ValidBytes(data) {
		return Contract{}, errors.New("invalid artifact json")
	}
	doc := gjson.ParseBytes(data)

	name := doc.Get("contractName").String()
	if name == "" {
		return Contract{}, errors.New("artifact has no contractName")
	}

	c := Contract{
		Name:              name,
		SourcePath:        doc.Get("sourcePath").String(),
		Source:            doc.Get("source").String(),
		FileIndex:         -1,
		Bytecode:          doc.Get("bytecode").String(),
		DeployedBytecode:  doc.Get("deployedBytecode").String(),
		SourceMap:         doc.Get("sourceMap").String(),
		DeployedSourceMap: doc.Get("deployedSourceMap").String(),
		ABI:               doc.Get("abi").Raw,
		Networks:          make(map[string]string),
	}
	if c.SourcePath == "" {
		c.SourcePath = doc.Get("ast.absolutePath").String()
	}

	if src := doc.Get("ast.src").String(); src != "" {
		idx, err := fileIndex(src)
		if err != nil {
			return Contract{}, fmt.Errorf("contract %s: %w", name, err)
		}
		c.FileIndex = idx
	}

	doc.Get("networks").ForEach(func(id, network gjson.Result) bool {
		if addr := network.Get("address").String(); addr != "" {
			c.Networks[id.String()] = addr
		}
		return true
	})

	return c, nil
}

// fileIndex extracts the file index from a "start:length:file" src triple.
func fileIndex(src string) (int, error) {
	parts := strings.Split(src, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed ast src %q", src)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("malformed ast src %q: %w", src, err)
	}
	return idx, nil
}

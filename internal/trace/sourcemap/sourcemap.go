// Package sourcemap decodes solc compressed source maps and converts source
// byte offsets into line and column positions.
package sourcemap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Jump kinds recorded in a source map entry.
const (
	JumpNone   byte = '-'
	JumpInto   byte = 'i'
	JumpReturn byte = 'o'
)

// Entry is the source range of one instruction. File is -1 for instructions
// the compiler did not attribute to any source.
type Entry struct {
	Start         int
	Length        int
	File          int
	Jump          byte
	ModifierDepth int
}

// Mapped reports whether the entry belongs to a source file.
func (e Entry) Mapped() bool {
	return e.File >= 0 && e.Start >= 0
}

// Decode expands a compressed source map into one entry per instruction.
// Empty fields inherit the value of the previous entry.
func Decode(m string) ([]Entry, error) {
	if strings.TrimSpace(m) == "" {
		return nil, nil
	}

	items := strings.Split(m, ";")
	entries := make([]Entry, 0, len(items))
	prev := Entry{File: -1, Jump: JumpNone}

	for i, item := range items {
		cur := prev
		fields := strings.Split(item, ":")
		if len(fields) > 5 {
			return nil, fmt.Errorf("source map entry %d: too many fields in %q", i, item)
		}
		for j, field := range fields {
			if field == "" {
				continue
			}
			if j == 3 {
				if len(field) != 1 {
					return nil, fmt.Errorf("source map entry %d: bad jump %q", i, field)
				}
				cur.Jump = field[0]
				continue
			}
			n, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("source map entry %d: %w", i, err)
			}
			switch j {
			case 0:
				cur.Start = n
			case 1:
				cur.Length = n
			case 2:
				cur.File = n
			case 4:
				cur.ModifierDepth = n
			}
		}
		entries = append(entries, cur)
		prev = cur
	}
	return entries, nil
}

// LineIndex converts byte offsets of a source text into positions.
type LineIndex struct {
	starts []int
	size   int
}

// NewLineIndex indexes the line starts of src.
func NewLineIndex(src string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(src)}
}

// Lines returns the number of lines.
func (x *LineIndex) Lines() int {
	return len(x.starts)
}

// Position returns the 1-based line and column of offset. Offsets outside
// the text return 0, 0.
func (x *LineIndex) Position(offset int) (line, column int) {
	if offset < 0 || offset > x.size {
		return 0, 0
	}
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset }) - 1
	return i + 1, offset - x.starts[i] + 1
}

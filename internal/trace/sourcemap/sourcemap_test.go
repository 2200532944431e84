package sourcemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInheritsFields(t *testing.T) {
	entries, err := Decode("0:10:0:-:0;;12:4;:2:1:i;-1:0:-1;:::o")
	require.NoError(t, err)
	require.Len(t, entries, 6)

	assert.Equal(t, Entry{Start: 0, Length: 10, File: 0, Jump: JumpNone}, entries[0])
	assert.Equal(t, entries[0], entries[1])
	assert.Equal(t, Entry{Start: 12, Length: 4, File: 0, Jump: JumpNone}, entries[2])
	assert.Equal(t, Entry{Start: 12, Length: 2, File: 1, Jump: JumpInto}, entries[3])
	assert.False(t, entries[4].Mapped())
	assert.Equal(t, JumpReturn, entries[5].Jump)
	assert.Equal(t, -1, entries[5].File)
}

func TestDecodeEmpty(t *testing.T) {
	entries, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("1:2:3:-:0:9")
	assert.Error(t, err)

	_, err = Decode("a:2")
	assert.Error(t, err)

	_, err = Decode("1:2:0:io")
	assert.Error(t, err)
}

func TestLineIndex(t *testing.T) {
	src := "contract C {\n  uint x;\n\n}\n"
	x := NewLineIndex(src)
	assert.Equal(t, 5, x.Lines())

	line, col := x.Position(0)
	assert.Equal(t, []int{1, 1}, []int{line, col})

	line, col = x.Position(15) // "uint"
	assert.Equal(t, []int{2, 3}, []int{line, col})

	line, col = x.Position(23) // empty line
	assert.Equal(t, []int{3, 1}, []int{line, col})

	line, col = x.Position(len(src))
	assert.Equal(t, []int{5, 1}, []int{line, col})

	line, col = x.Position(-1)
	assert.Equal(t, []int{0, 0}, []int{line, col})
	line, col = x.Position(len(src) + 1)
	assert.Equal(t, []int{0, 0}, []int{line, col})
}

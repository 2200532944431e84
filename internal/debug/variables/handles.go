package variables

import (
	"strings"
	"sync"
)

const (
	// NoReference marks a variable that cannot be expanded.
	NoReference = 0

	// AllReference is the reference of the synthetic "All variables" scope.
	AllReference = 1
)

// handleTable maps variable references to slash-delimited snapshot paths.
// Entries are never freed: a reference stays bound to its path for the
// lifetime of the session even when the value under it changes.
type handleTable struct {
	mu     sync.Mutex
	next   int
	byRef  map[int]string
	byPath map[string]int
}

func newHandleTable() *handleTable {
	return &handleTable{
		next:   AllReference + 1,
		byRef:  make(map[int]string),
		byPath: make(map[string]int),
	}
}

// allocate returns the reference bound to path, creating it on first use.
func (t *handleTable) allocate(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ref, ok := t.byPath[path]; ok {
		return ref
	}
	ref := t.next
	t.next++
	t.byRef[ref] = path
	t.byPath[path] = ref
	return ref
}

// lookup returns the path bound to ref.
func (t *handleTable) lookup(ref int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, ok := t.byRef[ref]
	return path, ok
}

// size returns the number of allocated references.
func (t *handleTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byRef)
}

// ParsePath splits an expression such as "a.b", "a/b" or "/a/b" into keys.
// Empty segments are dropped.
func ParsePath(expr string) []string {
	fields := strings.FieldsFunc(strings.TrimSpace(expr), func(r rune) bool {
		return r == '.' || r == '/'
	})
	keys := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			keys = append(keys, f)
		}
	}
	return keys
}

// JoinPath renders keys in the canonical slash-delimited form ("/a/b").
func JoinPath(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return "/" + strings.Join(keys, "/")
}

package config

import (
	"slices"
	"sync"
)

// CurrentDirectory is the single entry a fresh search path starts with.
const CurrentDirectory = "."

// SearchPath is the ordered list of directories consulted when no explicit
// configuration file is given. The first directory holding DefaultFileName wins.
type SearchPath struct {
	mu   sync.RWMutex
	dirs []string
}

// NewSearchPath creates a search path in its initial state.
func NewSearchPath() *SearchPath {
	return &SearchPath{dirs: []string{CurrentDirectory}}
}

// Push puts dir in front of every existing entry.
func (sp *SearchPath) Push(dir string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.dirs = append([]string{dir}, sp.dirs...)
}

// Reset restores the initial single-entry state.
func (sp *SearchPath) Reset() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.dirs = []string{CurrentDirectory}
}

// Dirs returns a copy of the entries in lookup order.
func (sp *SearchPath) Dirs() []string {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	return slices.Clone(sp.dirs)
}

var processSearchPath = NewSearchPath()

// DefaultSearchPath returns the process-wide search path used when New is
// called without WithSearchPath.
func DefaultSearchPath() *SearchPath {
	return processSearchPath
}

// PushSearchPath prepends dir to the process-wide search path.
func PushSearchPath(dir string) {
	processSearchPath.Push(dir)
}

// ResetSearchPath restores the process-wide search path to its initial state.
func ResetSearchPath() {
	processSearchPath.Reset()
}

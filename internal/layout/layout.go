// Package layout maps a workspace directory to its canonical sub-paths.
// It has no behavior of its own; every other core package takes a
// *Workspace (or the individual paths) instead of re-deriving them.
package layout

import "path/filepath"

const (
	// LongMemoryFile is the long-term memory file at the workspace root.
	LongMemoryFile = "MEMORY.md"
	// MemoryDir is the directory of dated or freely named Markdown notes.
	MemoryDir = "memory"
	// IndexFile is the embedded database file name.
	IndexFile = "index.db"
	// LockSuffix is appended to IndexFile to name the index lock file.
	LockSuffix = ".lock"
	// MetaFile is the workspace lifecycle collaborator's metadata file.
	MetaFile = "meta.json"
	// FulltextDir is the optional BM25 index directory, created only
	// when hybrid search is enabled.
	FulltextDir = "index.bleve"
)

// Workspace resolves the canonical paths for one workspace directory.
type Workspace struct {
	// Root is the workspace directory itself.
	Root string
}

// New returns a Workspace rooted at root.
func New(root string) *Workspace {
	return &Workspace{Root: root}
}

// LongMemoryPath returns the path to MEMORY.md.
func (w *Workspace) LongMemoryPath() string {
	return filepath.Join(w.Root, LongMemoryFile)
}

// MemoryDirPath returns the path to the memory/ directory.
func (w *Workspace) MemoryDirPath() string {
	return filepath.Join(w.Root, MemoryDir)
}

// IndexPath returns the path to the index database file.
func (w *Workspace) IndexPath() string {
	return filepath.Join(w.Root, IndexFile)
}

// LockPath returns the path to the index database's lock file.
func (w *Workspace) LockPath() string {
	return w.IndexPath() + LockSuffix
}

// MetaPath returns the path to the workspace lifecycle metadata file.
func (w *Workspace) MetaPath() string {
	return filepath.Join(w.Root, MetaFile)
}

// FulltextPath returns the path to the optional BM25 index directory.
func (w *Workspace) FulltextPath() string {
	return filepath.Join(w.Root, FulltextDir)
}

// Package store is the embedded, single-file persistence layer: a SQLite
// database holding chunk rows, file-state rows, metadata, an embedding
// cache, and (when a vector extension loads) a parallel vector table.
package store

// FileRecord tracks one indexed Markdown file.
type FileRecord struct {
	Path  string
	Hash  string
	Mtime int64 // milliseconds since epoch, floored
	Size  int64
}

// ChunkRecord is the persisted form of a chunk.Chunk plus its embedding.
type ChunkRecord struct {
	ID        string
	FilePath  string
	LineStart int
	LineEnd   int
	Hash      string
	Model     string
	Content   string
	Embedding []float32
	UpdatedAt int64
}

// IndexMeta is the single JSON blob recording the embedding model/dims,
// the last-known vector-extension path, and the chunking parameters that
// produced the current index.
type IndexMeta struct {
	Model         string `json:"model"`
	Dims          int    `json:"dims"`
	ExtensionPath string `json:"extension_path,omitempty"`
	Tokens        int    `json:"tokens"`
	Overlap       int    `json:"overlap"`
	MinChars      int    `json:"min_chars"`
	CharsPerToken int    `json:"chars_per_token"`
}

// VectorHit is one row returned by a native vector-table search.
type VectorHit struct {
	ChunkID  string
	Distance float64
}

const metaIndexKey = "index_meta"

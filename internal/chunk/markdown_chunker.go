package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MarkdownChunker splits Markdown content into size-bounded,
// line-overlapped chunks.
//
// It operates purely on byte-length accounting (not Markdown structure):
// headers, code fences, and lists are treated as ordinary lines. This
// keeps chunk boundaries deterministic and keeps the chunker agnostic to
// the rest of a file's formatting.
type MarkdownChunker struct{}

var _ Chunker = (*MarkdownChunker)(nil)

// NewMarkdownChunker creates a MarkdownChunker.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

// entry is one source line, or one segment of a source line that exceeded
// maxChars. Multiple entries may share the same line number.
type entry struct {
	line int
	text string
}

// Chunk splits content into an ordered sequence of chunks per cfg.
func (c *MarkdownChunker) Chunk(ctx context.Context, filePath string, content string, cfg ChunkingConfig) ([]Chunk, error) {
	if content == "" {
		return nil, nil
	}

	maxChars := cfg.MaxChars()
	overlapChars := cfg.OverlapChars()

	entries := splitEntries(content, maxChars)
	if len(entries) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	var current []entry
	currentChars := 0
	ordinal := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(filePath, current, ordinal))
		ordinal++
	}

	for _, e := range entries {
		added := len(e.text) + 1
		if currentChars+added > maxChars && len(current) > 0 {
			flush()
			current, currentChars = carryOverlap(current, overlapChars)
		}
		current = append(current, e)
		currentChars += added
	}
	flush()

	return chunks, nil
}

// splitEntries walks content line by line, slicing any line longer than
// maxChars into maxChars-sized segments that keep the original line number.
func splitEntries(content string, maxChars int) []entry {
	lines := strings.Split(content, "\n")
	entries := make([]entry, 0, len(lines))
	for i, line := range lines {
		lineNum := i + 1
		if maxChars <= 0 || len(line) <= maxChars {
			entries = append(entries, entry{line: lineNum, text: line})
			continue
		}
		for start := 0; start < len(line); start += maxChars {
			end := start + maxChars
			if end > len(line) {
				end = len(line)
			}
			entries = append(entries, entry{line: lineNum, text: line[start:end]})
		}
	}
	return entries
}

// carryOverlap returns the tail of flushed whose cumulative size first
// reaches overlapChars, to seed the next chunk. If overlapChars is zero,
// nothing is carried.
func carryOverlap(flushed []entry, overlapChars int) ([]entry, int) {
	if overlapChars <= 0 {
		return nil, 0
	}

	cum := 0
	start := len(flushed)
	for i := len(flushed) - 1; i >= 0; i-- {
		cum += len(flushed[i].text) + 1
		start = i
		if cum >= overlapChars {
			break
		}
	}

	tail := make([]entry, len(flushed)-start)
	copy(tail, flushed[start:])
	return tail, cum
}

func buildChunk(filePath string, entries []entry, ordinal int) Chunk {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.text
	}
	content := strings.Join(lines, "\n")
	hash := sha256Hex(content)
	lineStart := entries[0].line
	lineEnd := entries[len(entries)-1].line
	id := sha256Hex(fmt.Sprintf("%s:%d:%d:%s:%d", filePath, lineStart, lineEnd, hash, ordinal))

	return Chunk{
		ID:        id,
		FilePath:  filePath,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Hash:      hash,
		Content:   content,
		Ordinal:   ordinal,
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

//go:build ignore

// Package main generates a synthetic Markdown memory corpus for
// benchmarking the chunker, sync engine, and search fallback paths.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of memory files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output workspace directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
	maxNotes  = flag.Int("notes", 12, "Maximum notes per daily file")
)

var topics = []string{
	"deploy pipeline", "search ranking", "index compaction", "daemon lifecycle",
	"embedding cache", "lock contention", "chunk overlap tuning", "vector table",
	"workspace tokens", "markdown layout", "retry budget", "model download",
	"snippet rendering", "idle shutdown", "socket permissions", "schema drift",
}

var verbs = []string{
	"investigated", "fixed", "profiled", "rewrote", "benchmarked",
	"documented", "reverted", "simplified", "shipped", "debugged",
}

var details = []string{
	"the busy timeout masked a held transaction",
	"overlap carry was off by one line at the boundary",
	"the cache hit rate dropped after the model switch",
	"WAL checkpointing stalled under concurrent readers",
	"the poll interval dominated end-to-end latency",
	"stale lock recovery fired on a live writer once",
	"batch sizing underfilled with short notes",
	"cosine scores collapsed when dims mismatched",
	"the idle timer reset on every ping as intended",
	"orphan vectors accumulated after a hard kill",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	memDir := filepath.Join(*outputDir, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	if err := writeLongMemory(*outputDir, rng); err != nil {
		fmt.Fprintf(os.Stderr, "write MEMORY.md: %v\n", err)
		os.Exit(1)
	}

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < *numFiles; i++ {
		name := day.AddDate(0, 0, i).Format("2006-01-02") + ".md"
		if err := writeDaily(filepath.Join(memDir, name), name, rng); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Printf("generated %d daily files under %s\n", *numFiles, memDir)
}

func writeLongMemory(dir string, rng *rand.Rand) error {
	var b strings.Builder
	b.WriteString("# Long-term memory\n\n")
	for i := 0; i < 40; i++ {
		b.WriteString(fmt.Sprintf("- The %s work: %s.\n", pick(rng, topics), pick(rng, details)))
	}
	return os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte(b.String()), 0o644)
}

func writeDaily(path, name string, rng *rand.Rand) error {
	var b strings.Builder
	b.WriteString("# " + strings.TrimSuffix(name, ".md") + "\n")
	n := 1 + rng.Intn(*maxNotes)
	for i := 0; i < n; i++ {
		b.WriteString(fmt.Sprintf("\n## %s\n\nToday I %s the %s; %s. ",
			pick(rng, topics), pick(rng, verbs), pick(rng, topics), pick(rng, details)))
		// A few long sentences so chunk boundaries land mid-note.
		for j := 0; j < 2+rng.Intn(4); j++ {
			b.WriteString(fmt.Sprintf("Follow-up: %s, noted while we %s the %s. ",
				pick(rng, details), pick(rng, verbs), pick(rng, topics)))
		}
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func pick(rng *rand.Rand, xs []string) string {
	return xs[rng.Intn(len(xs))]
}

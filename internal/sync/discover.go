package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/evilpsycho42/mem-cli/internal/layout"
)

// OnDiskFile describes one indexable Markdown file discovered on disk.
type OnDiskFile struct {
	// RelPath is the workspace-relative POSIX path, matching chunk.FilePath.
	RelPath string
	AbsPath string
	Mtime   int64
	Size    int64
}

// DiscoverFiles returns exactly the indexed set: MEMORY.md (if present)
// plus every *.md file under memory/, at any depth. No other Markdown
// file in the workspace is indexed.
func DiscoverFiles(ws *layout.Workspace) ([]OnDiskFile, error) {
	var out []OnDiskFile

	if info, err := os.Stat(ws.LongMemoryPath()); err == nil && !info.IsDir() {
		out = append(out, fileInfoToOnDisk(layout.LongMemoryFile, ws.LongMemoryPath(), info))
	} else if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	memDir := ws.MemoryDirPath()
	if _, err := os.Stat(memDir); err == nil {
		walkErr := filepath.WalkDir(memDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
				return nil
			}
			info, statErr := d.Info()
			if statErr != nil {
				return statErr
			}
			rel, relErr := filepath.Rel(ws.Root, path)
			if relErr != nil {
				return relErr
			}
			out = append(out, fileInfoToOnDisk(filepath.ToSlash(rel), path, info))
			return nil
		})
		if walkErr != nil {
			return nil, walkErr
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return out, nil
}

func fileInfoToOnDisk(rel, abs string, info os.FileInfo) OnDiskFile {
	return OnDiskFile{
		RelPath: rel,
		AbsPath: abs,
		Mtime:   info.ModTime().UnixMilli(),
		Size:    info.Size(),
	}
}

// HashFile computes the SHA-256 hash of a file's content.
func HashFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return HashContent(data), nil
}

// HashContent computes the SHA-256 hash of raw content, hex-encoded.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

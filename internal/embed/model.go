// Remote model specifiers (hf:..., http(s)://...) are downloaded into a
// local cache directory on first use; this file owns that resolution.
package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// modelDownloadTimeout bounds one model download end to end. Embedding
// models in the pack's size class are a few hundred MB.
const modelDownloadTimeout = 30 * time.Minute

// ModelManager resolves remote model specifiers to local files under a
// cache directory, downloading at most once per file across processes.
type ModelManager struct {
	cacheDir string
}

// NewModelManager creates a manager rooted at cacheDir.
func NewModelManager(cacheDir string) *ModelManager {
	return &ModelManager{cacheDir: cacheDir}
}

// IsRemoteSpec reports whether spec names a remote model rather than a
// local path or backend model name.
func IsRemoteSpec(spec string) bool {
	return strings.HasPrefix(spec, "hf:") ||
		strings.HasPrefix(spec, "http://") ||
		strings.HasPrefix(spec, "https://")
}

// resolveSpec maps a remote spec to its download URL and the file name
// it is cached under. "hf:owner/repo/file.gguf" expands to the Hugging
// Face resolve URL for that repo's main revision.
func resolveSpec(spec string) (url, filename string, err error) {
	switch {
	case strings.HasPrefix(spec, "hf:"):
		parts := strings.Split(strings.TrimPrefix(spec, "hf:"), "/")
		if len(parts) < 3 {
			return "", "", fmt.Errorf("embed: hf spec %q must be hf:owner/repo/file", spec)
		}
		owner, repo := parts[0], parts[1]
		file := strings.Join(parts[2:], "/")
		return fmt.Sprintf("https://huggingface.co/%s/%s/resolve/main/%s", owner, repo, file),
			path.Base(file), nil
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		name := path.Base(spec)
		if name == "" || name == "." || name == "/" {
			return "", "", fmt.Errorf("embed: cannot derive a file name from %q", spec)
		}
		return spec, name, nil
	default:
		return "", "", fmt.Errorf("embed: %q is not a remote model spec", spec)
	}
}

// EnsureModel returns the local path for spec, downloading it into the
// cache directory if absent. Concurrent processes racing on the same
// cache serialize through the download lock; the loser finds the file
// already present and returns immediately.
func (m *ModelManager) EnsureModel(ctx context.Context, spec string) (string, error) {
	url, filename, err := resolveSpec(spec)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(m.cacheDir, filename)

	if fileNonEmpty(dest) {
		return dest, nil
	}

	lock, err := lockDownloads(m.cacheDir)
	if err != nil {
		return "", err
	}
	defer lock.release()

	// Another process may have finished while this one waited.
	if fileNonEmpty(dest) {
		return dest, nil
	}

	if err := download(ctx, url, dest); err != nil {
		return "", fmt.Errorf("embed: download %s: %w", spec, err)
	}
	return dest, nil
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// download fetches url into dest via a temp file and an atomic rename,
// so a crash mid-transfer never leaves a truncated model behind.
func download(ctx context.Context, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, modelDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "mem-cli/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

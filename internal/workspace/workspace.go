// Package workspace owns the lifecycle the core treats as external:
// creating and destroying workspaces, the per-workspace meta.json with
// its type and token hash, and resolving which workspace an invocation
// targets. The core only ever receives a resolved *layout.Workspace.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evilpsycho42/mem-cli/internal/layout"
	"github.com/evilpsycho42/mem-cli/internal/memerr"
)

// Type distinguishes token-protected workspaces from open ones.
type Type string

const (
	// TypePrivate requires the workspace token on every access.
	TypePrivate Type = "private"
	// TypePublic requires no token.
	TypePublic Type = "public"
)

// Meta is the content of a workspace's meta.json.
type Meta struct {
	Type Type `json:"type"`
	// TokenHash is SHA-256 of the workspace token, hex-encoded; empty
	// for public workspaces. The token itself is never stored.
	TokenHash string `json:"tokenHash,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// HashToken returns the hex SHA-256 of a workspace token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ReadMeta loads meta.json for the workspace at root. A missing file
// yields WorkspaceNotInitialized.
func ReadMeta(root string) (*Meta, error) {
	ws := layout.New(root)
	data, err := os.ReadFile(ws.MetaPath())
	if os.IsNotExist(err) {
		return nil, memerr.WorkspaceNotInitialized(root)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: read meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("workspace: decode meta: %w", err)
	}
	return &m, nil
}

// InitOptions controls workspace creation.
type InitOptions struct {
	// Public creates an untokened workspace; mutually exclusive with Token.
	Public bool
	// Token protects the workspace; its hash is recorded in meta.json.
	Token string
}

// Init creates the workspace skeleton at root: MEMORY.md, memory/, and
// meta.json. It refuses to overwrite an already-initialized workspace.
func Init(root string, opts InitOptions) (*Meta, error) {
	if opts.Public && opts.Token != "" {
		return nil, memerr.InvalidInput("--public and --token are mutually exclusive", nil)
	}
	if !opts.Public && opts.Token == "" {
		return nil, memerr.InvalidInput("workspace type required: pass --public or --token", nil)
	}

	ws := layout.New(root)
	if _, err := os.Stat(ws.MetaPath()); err == nil {
		return nil, memerr.InvalidInput(fmt.Sprintf("%s is already an initialized workspace", root), nil)
	}

	if err := os.MkdirAll(ws.MemoryDirPath(), 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create memory dir: %w", err)
	}
	if _, err := os.Stat(ws.LongMemoryPath()); os.IsNotExist(err) {
		if werr := os.WriteFile(ws.LongMemoryPath(), []byte("# Long-term memory\n"), 0o644); werr != nil {
			return nil, fmt.Errorf("workspace: create %s: %w", layout.LongMemoryFile, werr)
		}
	}

	m := &Meta{Type: TypePublic, CreatedAt: time.Now().UnixMilli()}
	if opts.Token != "" {
		m.Type = TypePrivate
		m.TokenHash = HashToken(opts.Token)
	}
	if err := writeMeta(ws.MetaPath(), m); err != nil {
		return nil, err
	}

	if err := register(root, m.Type); err != nil {
		return nil, err
	}
	return m, nil
}

// Destroy removes the workspace directory tree. confirm guards against
// accidental invocation; access is checked the same way Resolve does.
func Destroy(root string, confirm bool, token string, public bool) error {
	if !confirm {
		return memerr.InvalidInput("destroy requires --confirm", nil)
	}
	if _, err := Resolve(root, public, token); err != nil {
		return err
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", root, err)
	}
	return unregister(root)
}

// Resolve checks access to the workspace at root and returns its layout.
// public asserts the workspace is public; token (or MEM_CLI_TOKEN when
// token is empty) must match a private workspace's recorded hash.
func Resolve(root string, public bool, token string) (*layout.Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve path: %w", err)
	}

	m, err := ReadMeta(abs)
	if err != nil {
		return nil, err
	}

	if public && token != "" {
		return nil, memerr.InvalidInput("--public and --token are mutually exclusive", nil)
	}

	switch m.Type {
	case TypePublic:
		if token != "" {
			return nil, memerr.AccessDenied(abs).
				WithSuggestion("this workspace is public; drop --token")
		}
	case TypePrivate:
		if public {
			return nil, memerr.AccessDenied(abs).
				WithSuggestion("this workspace is private; pass --token or set MEM_CLI_TOKEN")
		}
		if token == "" {
			token = os.Getenv("MEM_CLI_TOKEN")
		}
		if token == "" || HashToken(token) != m.TokenHash {
			return nil, memerr.AccessDenied(abs)
		}
	default:
		return nil, memerr.New(memerr.CodeInternal,
			fmt.Sprintf("workspace %s has unknown type %q", abs, m.Type), nil)
	}

	return layout.New(abs), nil
}

func writeMeta(path string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encode meta: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("workspace: write meta: %w", err)
	}
	return nil
}

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evilpsycho42/mem-cli/internal/memerr"
)

func useTempRegistry(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := registryPath
	registryPath = func() (string, error) {
		return filepath.Join(dir, "workspaces.json"), nil
	}
	t.Cleanup(func() { registryPath = old })
}

func TestInit_CreatesSkeleton(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()

	meta, err := Init(root, InitOptions{Public: true})
	require.NoError(t, err)
	assert.Equal(t, TypePublic, meta.Type)
	assert.Empty(t, meta.TokenHash)

	assert.FileExists(t, filepath.Join(root, "MEMORY.md"))
	assert.DirExists(t, filepath.Join(root, "memory"))
	assert.FileExists(t, filepath.Join(root, "meta.json"))
}

func TestInit_RefusesDoubleInit(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()

	_, err := Init(root, InitOptions{Public: true})
	require.NoError(t, err)

	_, err = Init(root, InitOptions{Public: true})
	assert.Equal(t, memerr.CodeInvalidInput, memerr.GetCode(err))
}

func TestInit_RequiresTypeSelection(t *testing.T) {
	useTempRegistry(t)

	_, err := Init(t.TempDir(), InitOptions{})
	assert.Equal(t, memerr.CodeInvalidInput, memerr.GetCode(err))

	_, err = Init(t.TempDir(), InitOptions{Public: true, Token: "x"})
	assert.Equal(t, memerr.CodeInvalidInput, memerr.GetCode(err))
}

func TestResolve_PublicWorkspace(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()
	_, err := Init(root, InitOptions{Public: true})
	require.NoError(t, err)

	ws, err := Resolve(root, true, "")
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)

	// A token against a public workspace is a mistake worth surfacing.
	_, err = Resolve(root, false, "some-token")
	assert.Equal(t, memerr.CodeAccessDenied, memerr.GetCode(err))
}

func TestResolve_PrivateWorkspaceTokenChecks(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()
	_, err := Init(root, InitOptions{Token: "s3cret"})
	require.NoError(t, err)

	ws, err := Resolve(root, false, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, root, ws.Root)

	_, err = Resolve(root, false, "wrong")
	assert.Equal(t, memerr.CodeAccessDenied, memerr.GetCode(err))

	_, err = Resolve(root, false, "")
	assert.Equal(t, memerr.CodeAccessDenied, memerr.GetCode(err))

	_, err = Resolve(root, true, "")
	assert.Equal(t, memerr.CodeAccessDenied, memerr.GetCode(err))
}

func TestResolve_EnvTokenFallback(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()
	_, err := Init(root, InitOptions{Token: "from-env"})
	require.NoError(t, err)

	t.Setenv("MEM_CLI_TOKEN", "from-env")
	_, err = Resolve(root, false, "")
	assert.NoError(t, err)
}

func TestResolve_UninitializedDirectory(t *testing.T) {
	useTempRegistry(t)
	_, err := Resolve(t.TempDir(), true, "")
	assert.Equal(t, memerr.CodeWorkspaceNotInitialized, memerr.GetCode(err))
}

func TestDestroy_RequiresConfirmAndAccess(t *testing.T) {
	useTempRegistry(t)
	root := t.TempDir()
	_, err := Init(root, InitOptions{Token: "tk"})
	require.NoError(t, err)

	err = Destroy(root, false, "tk", false)
	assert.Equal(t, memerr.CodeInvalidInput, memerr.GetCode(err))

	err = Destroy(root, true, "wrong", false)
	assert.Equal(t, memerr.CodeAccessDenied, memerr.GetCode(err))

	require.NoError(t, Destroy(root, true, "tk", false))
	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegistry_TracksLifecycle(t *testing.T) {
	useTempRegistry(t)

	rootA := t.TempDir()
	rootB := t.TempDir()
	_, err := Init(rootA, InitOptions{Public: true})
	require.NoError(t, err)
	_, err = Init(rootB, InitOptions{Token: "tk"})
	require.NoError(t, err)

	entries, err := List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, Destroy(rootA, true, "", true))
	entries, err = List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rootB, entries[0].Path)
	assert.Equal(t, TypePrivate, entries[0].Type)
}

package delivery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathGuardValidate(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	guard := newPathGuard(root)

	inside := filepath.Join(root, "sub", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("ok"), 0o644))

	resolved, err := guard.validate(inside)
	require.NoError(t, err)
	assert.True(t, within(guard.roots[0], resolved))

	outside := filepath.Join(other, "file.txt")
	require.NoError(t, os.WriteFile(outside, []byte("no"), 0o644))
	_, err = guard.validate(outside)
	assert.ErrorIs(t, err, ErrPathRejected)

	// Traversal that normalizes back inside the root is fine; traversal
	// that escapes is not.
	_, err = guard.validate(filepath.Join(root, "sub", "..", "sub", "file.txt"))
	assert.NoError(t, err)
	_, err = guard.validate(filepath.Join(root, "..", filepath.Base(other), "file.txt"))
	assert.ErrorIs(t, err, ErrPathRejected)

	// Nonexistent paths cannot be proven safe.
	_, err = guard.validate(filepath.Join(root, "missing.txt"))
	assert.ErrorIs(t, err, ErrPathRejected)
}

func TestPathGuardResolvesSymlinks(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	guard := newPathGuard(root)

	target := filepath.Join(other, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("secret"), 0o644))

	link := filepath.Join(root, "alias.txt")
	require.NoError(t, os.Symlink(target, link))
	_, err := guard.validate(link)
	assert.ErrorIs(t, err, ErrPathRejected)

	// A symlinked directory inside the root escaping it is caught too.
	dirLink := filepath.Join(root, "aliasdir")
	require.NoError(t, os.Symlink(other, dirLink))
	_, err = guard.validate(filepath.Join(dirLink, "secret.txt"))
	assert.ErrorIs(t, err, ErrPathRejected)
}

func TestWithinRespectsSeparatorBoundaries(t *testing.T) {
	sep := string(os.PathSeparator)
	root := sep + "data" + sep + "cache"

	assert.True(t, within(root, root))
	assert.True(t, within(root, filepath.Join(root, "blob")))
	assert.False(t, within(root, root+"-evil"))
	assert.False(t, within(root, sep+"data"))
}

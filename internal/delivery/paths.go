package delivery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathRejected reports a registration path outside the allow-listed
// roots. No URL is issued for rejected paths.
var ErrPathRejected = errors.New("path outside allowed roots")

// pathGuard validates registration paths against an allow-list of root
// directories. Validation happens after symlink resolution, so a link
// planted inside an allowed root cannot smuggle an outside file through
// the registration API.
type pathGuard struct {
	roots []string
}

// newPathGuard resolves each root once. Roots that do not exist yet are
// kept in their cleaned absolute form; the server cache dir is created
// before the guard is built.
func newPathGuard(roots ...string) *pathGuard {
	g := &pathGuard{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		g.roots = append(g.roots, filepath.Clean(abs))
	}
	return g
}

// validate resolves the candidate path and returns its canonical form if
// it lies under one of the allowed roots.
func (g *pathGuard) validate(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathRejected, path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// A path that cannot be resolved cannot be proven safe.
		return "", fmt.Errorf("%w: %s", ErrPathRejected, path)
	}

	for _, root := range g.roots {
		if within(root, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathRejected, path)
}

// within reports whether path is root or lives under it, respecting
// separator boundaries so "/cache-evil" does not pass for root "/cache".
func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(os.PathSeparator))
}

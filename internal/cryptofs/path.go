package cryptofs

import (
	"path/filepath"
	"strings"
)

// relPath rebases a mountpoint-absolute path onto the backing directory,
// e.g. "/x/y" becomes "x/y" for use with the *at family of syscalls
// against backingRootFD. The mount root itself maps to ".", not "" — an
// empty relative path is rejected by openat(2) and friends without
// AT_EMPTY_PATH, which backingRootFD operations never pass.
func relPath(path string) string {
	rel := strings.TrimPrefix(path, "/")
	if rel == "" {
		return "."
	}
	return rel
}

// absBackingPath joins a mountpoint-absolute path onto the backing root's
// real filesystem path. Only needed for the handful of calls (xattrs) that
// have no *at syscall variant in golang.org/x/sys/unix.
func (e *Engine) absBackingPath(path string) string {
	return filepath.Join(e.backingRootPath, relPath(path))
}

package cryptofs

import (
	"errors"
	"syscall"

	"github.com/winfsp/cgofuse/fuse"
)

// Sentinel error kinds the engine itself raises, as distinct from errors
// the backing filesystem or the crypto tool hand back. Spec's error
// taxonomy calls these out explicitly because they have no natural OS
// errno until the engine invents one at the FUSE boundary.
var (
	// ErrBadHandle means a handle id was not found in the registry.
	ErrBadHandle = errors.New("cryptofs: bad handle")
	// ErrInvalidArgument means a negative offset was passed to
	// read/write/truncate.
	ErrInvalidArgument = errors.New("cryptofs: invalid argument")
	// ErrPermission is raised by the engine itself (not the backing
	// filesystem) to enforce write-only mode, deny hard links, or deny
	// R_OK access checks.
	ErrPermission = errors.New("cryptofs: permission denied")
	// ErrIO wraps crypto-tool and pipe failures.
	ErrIO = errors.New("cryptofs: I/O error")
)

// toErrno maps an error from an engine operation to the negative errno
// cgofuse expects a FileSystemInterface method to return. nil maps to 0.
func toErrno(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, ErrBadHandle):
		return -fuse.EBADF
	case errors.Is(err, ErrInvalidArgument):
		return -fuse.EINVAL
	case errors.Is(err, ErrPermission):
		return -fuse.EACCES
	case errors.Is(err, ErrIO):
		return -fuse.EIO
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}

	// Unrecognized errors (should be rare; every backing syscall returns
	// syscall.Errno) are reported as I/O errors rather than panicking the
	// FUSE dispatch loop.
	return -fuse.EIO
}

package cryptofs

import (
	"os"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"
)

// Chmod, Chown, Mkdir, Rmdir, Unlink, Symlink, Readlink, Utimens, and the
// xattr trio each perform the corresponding OS call against the backing
// path, per spec §4.5's passthrough-operation contract. Link always
// fails, and Access additionally enforces write-only mode.

func (e *Engine) Chmod(path string, mode uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Fchmodat(e.backingRootFD, relPath(path), mode, 0))
}

func (e *Engine) Chown(path string, uid uint32, gid uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Fchownat(e.backingRootFD, relPath(path), int(uid), int(gid), unix.AT_SYMLINK_NOFOLLOW))
}

func (e *Engine) Mkdir(path string, mode uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Mkdirat(e.backingRootFD, relPath(path), mode))
}

func (e *Engine) Rmdir(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Unlinkat(e.backingRootFD, relPath(path), unix.AT_REMOVEDIR))
}

func (e *Engine) Unlink(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Unlinkat(e.backingRootFD, relPath(path), 0))
}

func (e *Engine) Symlink(target string, newpath string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Symlinkat(target, e.backingRootFD, relPath(newpath)))
}

func (e *Engine) Readlink(path string) (int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(e.backingRootFD, relPath(path), buf)
	if err != nil {
		return toErrno(err), ""
	}
	if n == 0 {
		return 0, ""
	}
	return 0, string(buf[:n])
}

// Link always fails: spec §4.5 excludes hard links entirely.
func (e *Engine) Link(oldpath string, newpath string) int {
	return toErrno(unix.EPERM)
}

func (e *Engine) Access(path string, mask uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.readEnabled && mask&unix.R_OK != 0 {
		return toErrno(ErrPermission)
	}
	return toErrno(unix.Faccessat(e.backingRootFD, relPath(path), mask, 0))
}

func (e *Engine) Utimens(path string, tmsp []fuse.Timespec) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ts [2]unix.Timespec
	if len(tmsp) >= 2 {
		ts[0] = unix.Timespec{Sec: tmsp[0].Sec, Nsec: tmsp[0].Nsec}
		ts[1] = unix.Timespec{Sec: tmsp[1].Sec, Nsec: tmsp[1].Nsec}
	}
	return toErrno(unix.UtimesNanoAt(e.backingRootFD, relPath(path), ts[:], unix.AT_SYMLINK_NOFOLLOW))
}

// Setxattr, Removexattr, and Listxattr fall back to absBackingPath: the
// *at family in golang.org/x/sys/unix has no xattr variants. Getxattr is
// intentionally not implemented; spec's passthrough list omits it.

func (e *Engine) Setxattr(path string, name string, value []byte, flags int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Setxattr(e.absBackingPath(path), name, value, flags))
}

func (e *Engine) Removexattr(path string, name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return toErrno(unix.Removexattr(e.absBackingPath(path), name))
}

func (e *Engine) Listxattr(path string, fill func(name string) bool) int {
	e.mu.Lock()
	abs := e.absBackingPath(path)
	e.mu.Unlock()

	size, err := unix.Listxattr(abs, nil)
	if err != nil {
		return toErrno(err)
	}
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(abs, buf)
	if err != nil {
		return toErrno(err)
	}

	start := 0
	for i, b := range buf[:n] {
		if b == 0 {
			if !fill(string(buf[start:i])) {
				break
			}
			start = i + 1
		}
	}
	return 0
}

// Opendir, Readdir, and Releasedir manage a lightweight handle distinct
// from the crypto-aware fileState registry: directories carry no
// plaintext buffer.

func (e *Engine) Opendir(path string) (int, Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fd, err := unix.Openat(e.backingRootFD, relPath(path), unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return toErrno(err), 0
	}

	h := e.nextHandle()
	e.dirHandle[h] = os.NewFile(uintptr(fd), path)
	return 0, h
}

func (e *Engine) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh Handle) int {
	e.mu.Lock()
	f, ok := e.dirHandle[fh]
	e.mu.Unlock()
	if !ok {
		return toErrno(ErrBadHandle)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)

	entries, err := f.ReadDir(-1)
	if err != nil {
		return toErrno(err)
	}

	for _, ent := range entries {
		t := ent.Type()
		isKnownSkip := t&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket|os.ModeCharDevice) != 0
		if isKnownSkip {
			continue
		}
		// Regular files, directories, symlinks, and unrecognized types
		// pass through; block/char/fifo/socket entries are skipped.
		if !fill(ent.Name(), nil, 0) {
			return 0
		}
	}
	return 0
}

func (e *Engine) Releasedir(path string, fh Handle) int {
	e.mu.Lock()
	f, ok := e.dirHandle[fh]
	if ok {
		delete(e.dirHandle, fh)
	}
	e.mu.Unlock()

	if !ok {
		return 0
	}
	f.Close()
	return 0
}

package cryptofs

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openBackingAt opens relPath under the backing root, applying flag
// normalization and falling back to the caller's original flags if the
// backing filesystem rejects the promoted O_RDWR with EACCES — e.g. a
// backing file whose permission bits grant write but not read access.
func (e *Engine) openBackingAt(rel string, flags int, mode uint32) (*os.File, error) {
	promoted := normalizeFlags(flags, e.readEnabled)

	fd, err := unix.Openat(e.backingRootFD, rel, promoted|unix.O_CLOEXEC, mode)
	if err == unix.EACCES && promoted != flags {
		fd, err = unix.Openat(e.backingRootFD, rel, flags|unix.O_CLOEXEC, mode)
	}
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), rel), nil
}

// Create implements the host's create callback: spec §4.5 "create".
func (e *Engine) Create(path string, flags int, mode uint32) (int, Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rootSet {
		return toErrno(fmt.Errorf("%w: not mounted", ErrIO)), 0
	}

	rel := relPath(path)
	f, err := e.openBackingAt(rel, flags|unix.O_CREAT, mode)
	if err != nil {
		return toErrno(err), 0
	}

	h := e.nextHandle()
	s := &fileState{
		backing:      f,
		flags:        normalizeFlags(flags, e.readEnabled) | unix.O_CREAT,
		path:         path,
		refs:         1,
		bufferLoaded: true,
		recipients:   e.recipients,
		gpgPath:      e.gpgPath,
		passphrase:   e.passphrase,
	}
	e.byHandle[h] = s
	e.byPath[path] = h
	return 0, h
}

// Open implements the host's open callback: spec §4.5 "open", including
// cross-open aliasing and the write-only O_EXCL requirement.
func (e *Engine) Open(path string, flags int) (int, Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rootSet {
		return toErrno(fmt.Errorf("%w: not mounted", ErrIO)), 0
	}

	if h, ok := e.byPath[path]; ok {
		s := e.byHandle[h]
		s.refs++
		return 0, h
	}

	accmode := flags & unix.O_ACCMODE
	wantsRead := accmode == unix.O_RDONLY || accmode == unix.O_RDWR
	if !e.readEnabled && wantsRead && flags&unix.O_CREAT != 0 {
		// Write-only mode forbids decrypting pre-existing ciphertext, but a
		// genuinely new file is fine. Rather than guessing, force O_EXCL
		// onto the real open and let the OS tell us which case this is:
		// EEXIST means the file already existed and must be denied.
		flags |= unix.O_EXCL
	}

	rel := relPath(path)
	f, err := e.openBackingAt(rel, flags, 0)
	if err != nil {
		return toErrno(err), 0
	}

	var st unix.Stat_t
	emptyFile := false
	if err := unix.Fstat(int(f.Fd()), &st); err == nil && st.Size == 0 {
		emptyFile = true
	}

	h := e.nextHandle()
	s := &fileState{
		backing:      f,
		flags:        normalizeFlags(flags, e.readEnabled),
		path:         path,
		refs:         1,
		bufferLoaded: emptyFile,
		recipients:   e.recipients,
		gpgPath:      e.gpgPath,
		passphrase:   e.passphrase,
	}
	e.byHandle[h] = s
	e.byPath[path] = h
	return 0, h
}

// Release implements spec §4.5 "release": decrements refcount, flushing
// and closing on last reference. Unknown/already-released handles are a
// silent no-op per the host's error-ignoring contract and §8's
// idempotence property.
func (e *Engine) Release(path string, fh Handle) int {
	e.mu.Lock()
	s, ok := e.byHandle[fh]
	if !ok {
		e.mu.Unlock()
		return 0
	}

	s.refs--
	if s.refs > 0 {
		e.mu.Unlock()
		return 0
	}

	delete(e.byHandle, fh)
	if e.byPath[s.path] == fh {
		delete(e.byPath, s.path)
	}
	e.mu.Unlock()

	if err := s.flush(context.Background()); err != nil {
		e.logger.Warn("flush on release failed", "path", s.path, "error", err)
	}
	return 0
}

// Rename implements spec §4.5 "rename": atomic backing rename followed by
// a registry update, never leaving a dangling by_path entry.
func (e *Engine) Rename(oldpath string, newpath string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldRel, newRel := relPath(oldpath), relPath(newpath)
	if err := unix.Renameat(e.backingRootFD, oldRel, e.backingRootFD, newRel); err != nil {
		return toErrno(err)
	}

	if h, ok := e.byPath[oldpath]; ok {
		delete(e.byPath, oldpath)
		e.byPath[newpath] = h
		e.byHandle[h].path = newpath
	}
	return 0
}

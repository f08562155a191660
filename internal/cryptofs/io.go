package cryptofs

import (
	"context"

	"golang.org/x/sys/unix"
)

// Read implements spec §4.5 "read", including the write-only-mode
// restriction to a freshly created file's own accumulating buffer.
func (e *Engine) Read(path string, buff []byte, ofst int64, fh Handle) int {
	if ofst < 0 {
		return toErrno(ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.byHandle[fh]
	if !ok {
		return toErrno(ErrBadHandle)
	}

	if !e.readEnabled {
		if !s.bufferLoaded || s.flags&unix.O_APPEND != 0 {
			return toErrno(ErrPermission)
		}
	} else if err := s.loadBuffer(context.Background()); err != nil {
		return toErrno(err)
	}

	if ofst >= int64(len(s.buffer)) {
		return 0
	}
	return copy(buff, s.buffer[ofst:])
}

// Write implements spec §4.5 "write": grows the plaintext buffer and
// marks it dirty, independent of read_enabled. When read is enabled the
// existing plaintext is loaded first, so the re-encryption on close keeps
// it. On an O_APPEND handle the bytes land at the end of the buffer,
// whatever ofst says.
func (e *Engine) Write(path string, buff []byte, ofst int64, fh Handle) int {
	if ofst < 0 {
		return toErrno(ErrInvalidArgument)
	}
	if len(buff) == 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.byHandle[fh]
	if !ok {
		return toErrno(ErrBadHandle)
	}

	if e.readEnabled {
		if err := s.loadBuffer(context.Background()); err != nil {
			return toErrno(err)
		}
	}
	if s.flags&unix.O_APPEND != 0 {
		ofst = int64(len(s.buffer))
	}

	end := ofst + int64(len(buff))
	if end > int64(len(s.buffer)) {
		grown := make([]byte, end)
		copy(grown, s.buffer)
		s.buffer = grown
	}
	copy(s.buffer[ofst:], buff)
	s.dirty = true
	s.bufferLoaded = true
	return len(buff)
}

// Truncate implements the merged truncate/ftruncate callback of spec
// §4.5: fh == NoHandle means a path-based truncate. When the path is not
// open, a transient state is opened for the duration of the operation: the
// decrypt/resize/flush round trip for a nonzero size, or just the backing
// truncation for size zero.
func (e *Engine) Truncate(path string, size int64, fh Handle) int {
	if size < 0 {
		return toErrno(ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var s *fileState
	if fh != NoHandle {
		s = e.byHandle[fh]
	}
	if s == nil {
		if h, ok := e.byPath[path]; ok {
			s = e.byHandle[h]
		}
	}

	transient := false
	if s == nil {
		f, err := e.openBackingAt(relPath(path), unix.O_RDWR, 0)
		if err != nil {
			return toErrno(err)
		}
		s = &fileState{
			backing:    f,
			flags:      unix.O_RDWR,
			path:       path,
			refs:       1,
			recipients: e.recipients,
			gpgPath:    e.gpgPath,
			passphrase: e.passphrase,
		}
		transient = true
	}

	errno := e.truncateState(s, size)
	if errno != 0 && transient {
		s.backing.Close()
		return errno
	}

	if transient {
		if err := s.flush(context.Background()); err != nil {
			return toErrno(err)
		}
	}
	return errno
}

// truncateState performs the resize described by spec §4.5 against an
// already-resolved fileState. The caller holds the engine mutex.
func (e *Engine) truncateState(s *fileState, size int64) int {
	if size == 0 {
		if err := unix.Ftruncate(int(s.backing.Fd()), 0); err != nil {
			return toErrno(err)
		}
		s.buffer = nil
		s.bufferLoaded = true
		s.dirty = false
		return 0
	}

	if !e.readEnabled {
		return toErrno(ErrPermission)
	}
	if err := s.loadBuffer(context.Background()); err != nil {
		return toErrno(err)
	}

	grown := make([]byte, size)
	copy(grown, s.buffer)
	s.buffer = grown
	s.dirty = true
	return 0
}

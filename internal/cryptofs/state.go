package cryptofs

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ckennelly/asymmetricfs/internal/envelope"
)

// fileState is the per-logical-open record described by spec §3: the
// backing descriptor, a lazily loaded plaintext buffer, and the dirty bit
// that gates re-encryption on close. Multiple concurrent opens of the same
// path share one fileState via Engine.byPath/byHandle; refs tracks how
// many logical opens currently alias it.
type fileState struct {
	backing *os.File
	flags   int
	path    string
	refs    int

	buffer       []byte
	bufferLoaded bool
	dirty        bool

	// recipients shares the slice held in Engine.recipients at creation
	// time. SetRecipients stores a fresh clone instead of mutating that
	// slice in place, so it stays an immutable snapshot — see DESIGN.md's
	// note on the recipient-list borrow.
	recipients []string

	gpgPath    string
	passphrase []byte
}

// loadBuffer ensures buffer reflects the full plaintext of the backing
// file, decrypting it if necessary. It is not safe to call concurrently
// for the same fileState; the Engine mutex enforces this by serializing
// all operations that might call it.
func (s *fileState) loadBuffer(ctx context.Context) error {
	if s.bufferLoaded {
		return nil
	}

	s.dirty = false
	s.buffer = nil

	var st unix.Stat_t
	if err := unix.Fstat(int(s.backing.Fd()), &st); err != nil {
		return fmt.Errorf("%w: fstat: %v", ErrIO, err)
	}
	if st.Size == 0 {
		s.bufferLoaded = true
		return nil
	}
	size := int(st.Size)

	mapped, err := unix.Mmap(int(s.backing.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap: %v", ErrIO, err)
	}
	defer unix.Munmap(mapped)

	blocks := envelope.Split(mapped)
	plaintext := make([]byte, 0, size)

	single := len(blocks) == 1 && blocks[0].Start == 0 && blocks[0].End == size
	for _, b := range blocks {
		var stdinFD *os.File
		var data []byte

		if single {
			// Donate the backing fd itself to avoid copying the whole
			// file through a pipe. The duplicate can be closed on its
			// own, but it shares the file offset, which gpg advances to
			// EOF; the offset is reset to 0 once the child is done.
			dupFD, err := unix.Dup(int(s.backing.Fd()))
			if err != nil {
				return fmt.Errorf("%w: dup: %v", ErrIO, err)
			}
			stdinFD = os.NewFile(uintptr(dupFD), s.backing.Name())
		} else {
			data = mapped[b.Start:b.End]
		}

		out, err := decryptBlock(ctx, s.gpgPath, stdinFD, data, s.passphrase)
		if stdinFD != nil {
			stdinFD.Close()
			s.backing.Seek(0, 0)
		}
		if err != nil {
			s.bufferLoaded = false
			return err
		}
		plaintext = append(plaintext, out...)
	}

	s.buffer = plaintext
	s.bufferLoaded = true
	s.dirty = false
	return nil
}

// flush re-encrypts buffer to the backing file if dirty, then closes the
// backing descriptor exactly once. It is safe to call multiple times;
// subsequent calls are no-ops with respect to flushing (the descriptor is
// only closed the first time).
func (s *fileState) flush(ctx context.Context) error {
	if s.backing == nil {
		return nil
	}

	var flushErr error
	if s.dirty {
		if _, err := s.backing.Seek(0, 0); err == nil {
			unix.Ftruncate(int(s.backing.Fd()), 0)
		}
		if err := encryptToFD(ctx, s.gpgPath, s.recipients, s.backing, s.buffer, s.passphrase); err != nil {
			flushErr = err
		}
		s.dirty = false
	}

	closeErr := s.backing.Close()
	s.backing = nil

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, closeErr)
	}
	return nil
}

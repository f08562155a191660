package cryptofs

import (
	"context"
	"fmt"
	"os"

	"github.com/ckennelly/asymmetricfs/internal/subproc"
)

// decryptChunkSize bounds each read off the crypto tool's stdout so
// arbitrarily large plaintexts are supported without a single huge read.
const decryptChunkSize = 1 << 20 // 1 MiB

// decryptBlock decrypts one ciphertext block and returns its plaintext.
// If stdinFD is non-nil, the block is already available as a real file
// descriptor (the single-block optimization) and is donated directly to
// the child instead of being copied through a pipe; data is ignored in
// that case. passphrase, if non-nil, is relayed to gpg over a dedicated
// pipe using --passphrase-fd rather than prompting interactively.
func decryptBlock(ctx context.Context, gpgPath string, stdinFD *os.File, data []byte, passphrase []byte) ([]byte, error) {
	argv := []string{"-d", "--no-tty", "--batch"}

	extra, passDone, err := passphraseFile(passphrase, &argv)
	if err != nil {
		return nil, err
	}

	ch, err := subproc.Spawn(ctx, gpgPath, argv, stdinFD, nil, extra...)
	if err != nil {
		return nil, fmt.Errorf("%w: spawn %s: %v", ErrIO, gpgPath, err)
	}
	if passDone != nil {
		defer passDone()
	}

	var writeDone <-chan error
	if stdinFD == nil {
		writeDone = ch.StartWrite(data)
	} else {
		done := make(chan error, 1)
		done <- nil
		writeDone = done
	}

	plaintext, readErr := subproc.ReadAllChunked(ch.Stdout(), decryptChunkSize)
	writeErr := <-writeDone

	if waitErr := ch.Wait(); waitErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, waitErr)
	}
	if writeErr != nil {
		return nil, fmt.Errorf("%w: writing ciphertext to %s: %v", ErrIO, gpgPath, writeErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading plaintext from %s: %v", ErrIO, gpgPath, readErr)
	}
	return plaintext, nil
}

// encryptToFD encrypts plaintext for every recipient and routes the
// ciphertext directly to stdoutFD — ordinarily the backing file, already
// positioned/truncated so the child's output becomes the entire file
// contents.
func encryptToFD(ctx context.Context, gpgPath string, recipients []string, stdoutFD *os.File, plaintext []byte, passphrase []byte) error {
	argv := []string{"-ae", "--no-tty", "--batch"}
	for _, r := range recipients {
		argv = append(argv, "-r", r)
	}

	extra, passDone, err := passphraseFile(passphrase, &argv)
	if err != nil {
		return err
	}

	ch, err := subproc.Spawn(ctx, gpgPath, argv, nil, stdoutFD, extra...)
	if err != nil {
		return fmt.Errorf("%w: spawn %s: %v", ErrIO, gpgPath, err)
	}
	if passDone != nil {
		defer passDone()
	}

	writeErr := <-ch.StartWrite(plaintext)
	if waitErr := ch.Wait(); waitErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, waitErr)
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing plaintext to %s: %v", ErrIO, gpgPath, writeErr)
	}
	return nil
}

// passphraseFile prepends the loopback-pinentry flags to argv and returns
// a read-end pipe fd for the child's --passphrase-fd 3 (ExtraFiles places
// it right after stdin/stdout/stderr), along with a cleanup closure the
// caller must run once the child has started. It is a no-op when no
// passphrase is configured.
func passphraseFile(passphrase []byte, argv *[]string) (extra []*os.File, cleanup func(), err error) {
	if len(passphrase) == 0 {
		return nil, nil, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: passphrase pipe: %v", ErrIO, err)
	}
	go func() {
		w.Write(passphrase)
		w.Close()
	}()

	*argv = append([]string{"--pinentry-mode", "loopback", "--passphrase-fd", "3"}, *argv...)
	return []*os.File{r}, func() { r.Close() }, nil
}

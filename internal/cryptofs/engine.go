// Package cryptofs implements the open-file and buffering engine of an
// asymmetric-encryption-aware FUSE filesystem: files live encrypted in a
// backing directory and are transparently decrypted on first read and
// re-encrypted on close, delegating the actual cryptography to an external
// tool invoked as a subprocess.
package cryptofs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/ckennelly/asymmetricfs/internal/cryptofs/keycheck"
)

// Handle is the opaque id returned by Create/Open and used by every
// subsequent per-handle operation. It is monotonically assigned and never
// reused within a process lifetime.
type Handle = uint64

// NoHandle is the sentinel cgofuse passes for fh when an operation targets
// a path rather than an open handle (e.g. a path-based truncate or
// getattr on an unopened file).
const NoHandle Handle = ^Handle(0)

// Engine holds all registry and configuration state shared across FUSE
// callbacks. Every entry point that touches the registry, the recipient
// list, or any fileState acquires mu for the duration of its work; the
// engine favors correctness and simplicity over fine-grained concurrency,
// including while blocked on the external crypto tool.
type Engine struct {
	fuse.FileSystemBase

	mu sync.Mutex

	backingRootFD   int
	backingRootPath string
	rootSet         bool

	recipients  []string
	readEnabled bool

	byPath    map[string]Handle
	byHandle  map[Handle]*fileState
	dirHandle map[Handle]*os.File
	nextH     Handle

	gpgPath    string
	passphrase []byte
	logger     *slog.Logger
}

// Options configures a new Engine.
type Options struct {
	// GPGPath is the crypto tool binary to invoke. Defaults to "gpg".
	GPGPath string
	// Logger receives structured diagnostics. Defaults to a discarding
	// logger.
	Logger *slog.Logger
	// Passphrase, if set, is relayed to gpg over --passphrase-fd instead
	// of letting it fall back to interactive pinentry. Used for secret
	// keys protected by a passphrase rather than --no-protection.
	Passphrase []byte
}

// New returns an unconfigured Engine. SetTarget and SetRecipients must be
// called before Ready returns true.
func New(opts Options) *Engine {
	gpgPath := opts.GPGPath
	if gpgPath == "" {
		gpgPath = "gpg"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	return &Engine{
		byPath:     make(map[string]Handle),
		byHandle:   make(map[Handle]*fileState),
		dirHandle:  make(map[Handle]*os.File),
		nextH:      1,
		gpgPath:    gpgPath,
		passphrase: opts.Passphrase,
		logger:     logger,
	}
}

// nextHandle returns a fresh, never-reused handle id. Callers must hold mu.
func (e *Engine) nextHandle() Handle {
	h := e.nextH
	e.nextH++
	return h
}

// SetTarget resolves target to a directory file descriptor that becomes
// the backing root for all subsequent operations. It fails if a handle is
// currently open against the previous root.
func (e *Engine) SetTarget(target string) error {
	if target == "" {
		return fmt.Errorf("cryptofs: empty backing directory")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.byHandle) != 0 {
		return fmt.Errorf("cryptofs: cannot change backing directory with open files")
	}

	fd, err := unix.Open(target, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("cryptofs: open backing directory %s: %w", target, err)
	}

	if e.rootSet {
		unix.Close(e.backingRootFD)
	}
	e.backingRootFD = fd
	e.backingRootPath = target
	e.rootSet = true
	return nil
}

// SetRecipients replaces the recipient list. The engine guarantees the
// lifetime of the recipient list to every fileState it hands a cloned
// snapshot to, so changing the list while any file is open is a fatal
// programmer error, not a recoverable one.
func (e *Engine) SetRecipients(recipients []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.byHandle) != 0 {
		return fmt.Errorf("cryptofs: changing recipient list with open files")
	}

	if err := keycheck.ValidateRecipients(recipients); err != nil {
		return fmt.Errorf("cryptofs: %w", err)
	}

	cloned := make([]string, len(recipients))
	copy(cloned, recipients)
	e.recipients = cloned
	return nil
}

// SetReadEnabled configures whether plaintext reads of pre-existing
// ciphertext are permitted.
func (e *Engine) SetReadEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readEnabled = enabled
}

// Ready reports whether a backing directory has been set and the
// recipient list is non-empty, mirroring the pre-mount sanity check a CLI
// layer should perform before handing the Engine to the FUSE host.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rootSet && len(e.recipients) > 0
}

// Init is the cgofuse FileSystemInterface entry point invoked once before
// any other callback. It has nothing to do beyond the setup performed by
// SetTarget/SetRecipients/SetReadEnabled, which the CLI layer calls first;
// it exists so Engine satisfies FileSystemInterface and logs mount start.
func (e *Engine) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("asymmetricfs mounted", "backing", e.backingRootPath, "read_enabled", e.readEnabled, "recipients", len(e.recipients))
}

// Destroy is the cgofuse teardown hook.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rootSet {
		unix.Close(e.backingRootFD)
		e.rootSet = false
	}
}

// discardHandler is a minimal slog.Handler that drops everything, used as
// the Engine's default logger so library code never requires callers to
// configure logging before it is useful.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// Command asymmetricfs mounts a directory as a transparently
// encrypted/decrypted view, delegating the actual cryptography to an
// external tool (gpg by default) invoked per file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/term"

	"github.com/ckennelly/asymmetricfs/internal/cryptofs"
)

var version = "dev"

func main() {
	var (
		backing     = pflag.StringP("backing", "b", "", "backing directory holding ciphertext (required)")
		recipients  = pflag.StringArrayP("recipient", "r", nil, "recipient key id; repeatable, at least one required")
		readEnabled = pflag.Bool("read-enabled", false, "permit decrypting and reading pre-existing ciphertext")
		gpgBinary   = pflag.String("gpg-binary", "gpg", "path to the encrypt/decrypt tool")
		debug       = pflag.Bool("debug", false, "enable verbose structured logging")
		showVersion = pflag.Bool("version", false, "print version and exit")
		askPass     = pflag.BoolP("ask-passphrase", "i", false, "prompt for the secret key passphrase instead of relying on pinentry")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <mountpoint>\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}
	mountpoint := pflag.Arg(0)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *backing == "" {
		logger.Error("missing required flag", "flag", "backing")
		os.Exit(2)
	}
	if len(*recipients) == 0 {
		logger.Error("at least one --recipient is required")
		os.Exit(2)
	}

	var passphrase []byte
	if *askPass {
		fmt.Fprint(os.Stderr, "Secret key passphrase: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			logger.Error("reading passphrase failed", "error", err)
			os.Exit(1)
		}
		passphrase = pw
	}

	engine := cryptofs.New(cryptofs.Options{
		GPGPath:    *gpgBinary,
		Logger:     logger,
		Passphrase: passphrase,
	})

	if err := engine.SetTarget(*backing); err != nil {
		logger.Error("configuring backing directory failed", "error", err)
		os.Exit(1)
	}
	if err := engine.SetRecipients(*recipients); err != nil {
		logger.Error("configuring recipients failed", "error", err)
		os.Exit(1)
	}
	engine.SetReadEnabled(*readEnabled)

	if !engine.Ready() {
		logger.Error("engine not ready after configuration")
		os.Exit(1)
	}

	host := fuse.NewFileSystemHost(engine)
	host.SetCapReaddirPlus(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("unmounting")
		host.Unmount()
	}()

	logger.Info("mounting", "version", version, "backing", *backing, "mountpoint", mountpoint, "read_enabled", *readEnabled, "recipients", len(*recipients))

	if !host.Mount(mountpoint, nil) {
		logger.Error("mount failed")
		os.Exit(1)
	}
}

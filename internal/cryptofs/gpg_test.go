package cryptofs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// requireGPG skips the calling test when no usable gpg binary is on PATH;
// the round-trip tests need a real crypto subprocess and are not worth
// faking with a stub.
func requireGPG(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("gpg")
	if err != nil {
		t.Skip("gpg not found on PATH, skipping")
	}
	return path
}

// testKeyring generates a throwaway RSA keypair in an isolated GNUPGHOME
// and returns a recipient string usable with -r. Modeled on the batch
// key generation original_source/src/test/gpg_helper.cpp performs for its
// own test fixtures.
func testKeyring(t *testing.T, gpgPath string) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("GNUPGHOME", home)
	os.Chmod(home, 0700)

	batch := strings.Join([]string{
		"%no-protection",
		"Key-Type: RSA",
		"Key-Length: 2048",
		"Subkey-Type: default",
		"Name-Real: asymmetricfs test",
		"Name-Email: test@asymmetricfs.invalid",
		"Expire-Date: 0",
		"%commit",
		"",
	}, "\n")

	cmd := exec.Command(gpgPath, "--batch", "--no-tty", "--gen-key")
	cmd.Stdin = strings.NewReader(batch)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("gpg --gen-key: %v: %s", err, out)
	}

	out, err := exec.Command(gpgPath, "--list-keys", "--with-colons").Output()
	if err != nil {
		t.Fatalf("gpg --list-keys: %v", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) > 4 && fields[0] == "pub" {
			return fields[4]
		}
	}
	t.Fatal("could not find generated key id")
	return ""
}

// newTestEngine wires an Engine against a fresh backing directory and a
// freshly generated single-recipient keyring. readEnabled controls the
// mode under test.
func newTestEngine(t *testing.T, readEnabled bool) (*Engine, string) {
	t.Helper()
	gpgPath := requireGPG(t)
	recipient := testKeyring(t, gpgPath)

	backing := t.TempDir()
	e := New(Options{GPGPath: gpgPath})
	if err := e.SetTarget(backing); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := e.SetRecipients([]string{recipient}); err != nil {
		t.Fatalf("SetRecipients: %v", err)
	}
	e.SetReadEnabled(readEnabled)
	if !e.Ready() {
		t.Fatal("engine not ready")
	}
	return e, backing
}

func writeBackingCiphertext(t *testing.T, backing, name string, plaintext []byte, gpgPath, recipient string) {
	t.Helper()
	cmd := exec.Command(gpgPath, "-ae", "--no-tty", "--batch", "-r", recipient)
	cmd.Stdin = strings.NewReader(string(plaintext))
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("gpg encrypt fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(backing, name), out, 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

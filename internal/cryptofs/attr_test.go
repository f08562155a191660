package cryptofs

import (
	"testing"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"
)

func TestGetattrBufferLoadedReflectsPlaintextSize(t *testing.T) {
	e, _ := newTestEngine(t, true)

	_, h := e.Create("/test", unix.O_CREAT|unix.O_RDWR, 0600)
	e.Write("/test", []byte("abcdefg"), 0, h)

	var stat fuse.Stat_t
	if rc := e.Getattr("/test", &stat, h); rc != 0 {
		t.Fatalf("Getattr: %d", rc)
	}
	if stat.Size != 7 {
		t.Fatalf("size for loaded buffer: got %d, want 7", stat.Size)
	}
	e.Release("/test", h)
}

func TestGetattrUnopenedFileLeavesCiphertextSize(t *testing.T) {
	gpgPath := requireGPG(t)
	backing := t.TempDir()
	recipient := testKeyring(t, gpgPath)
	writeBackingCiphertext(t, backing, "secret", []byte("classified material"), gpgPath, recipient)

	e := New(Options{GPGPath: gpgPath})
	if err := e.SetTarget(backing); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := e.SetRecipients([]string{recipient}); err != nil {
		t.Fatalf("SetRecipients: %v", err)
	}
	e.SetReadEnabled(true)

	var stat fuse.Stat_t
	if rc := e.Getattr("/secret", &stat, NoHandle); rc != 0 {
		t.Fatalf("Getattr: %d", rc)
	}
	if stat.Size == int64(len("classified material")) {
		t.Fatal("unopened getattr unexpectedly reports plaintext size instead of ciphertext size")
	}
	if stat.Size == 0 {
		t.Fatal("ciphertext file should report a nonzero size")
	}
}

func TestGetattrWriteOnlyModeStripsReadBits(t *testing.T) {
	e, backing := newTestEngine(t, false)
	_ = backing

	_, h := e.Create("/test", unix.O_CREAT|unix.O_RDWR, 0644)
	e.Release("/test", h)

	var stat fuse.Stat_t
	if rc := e.Getattr("/test", &stat, NoHandle); rc != 0 {
		t.Fatalf("Getattr: %d", rc)
	}
	if stat.Mode&0444 != 0 {
		t.Fatalf("write-only mode should strip read bits, got mode %o", stat.Mode&0777)
	}
}

func TestStatfsReportsBackingRoot(t *testing.T) {
	e, _ := newTestEngine(t, true)

	var st fuse.Statfs_t
	if rc := e.Statfs("/anything", &st); rc != 0 {
		t.Fatalf("Statfs: %d", rc)
	}
	if st.Bsize == 0 {
		t.Fatal("expected a nonzero block size from the backing filesystem")
	}
}

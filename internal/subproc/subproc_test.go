package subproc

import (
	"bytes"
	"context"
	"os"
	"testing"
)

func TestChannelPipeRoundtrip(t *testing.T) {
	if _, err := os.Stat("/bin/cat"); err != nil {
		t.Skip("/bin/cat not available")
	}

	ch, err := Spawn(context.Background(), "/bin/cat", nil, nil, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	payload := bytes.Repeat([]byte("asymmetricfs-subproc-test\n"), 1<<16) // exceeds typical pipe buffer
	errCh := ch.StartWrite(payload)

	out, err := ReadAllChunked(ch.Stdout(), 1<<20)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ch.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if !bytes.Equal(out, payload) {
		t.Fatalf("roundtrip mismatch: got %d bytes, want %d", len(out), len(payload))
	}
}

func TestChannelDonatedStdout(t *testing.T) {
	if _, err := os.Stat("/bin/echo"); err != nil {
		t.Skip("/bin/echo not available")
	}

	f, err := os.CreateTemp(t.TempDir(), "subproc")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()

	ch, err := Spawn(context.Background(), "/bin/echo", []string{"hello"}, nil, f)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := ch.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("read temp: %v", err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("got %q, want %q", got, "hello\n")
	}
}

func TestChannelNonzeroExit(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}

	ch, err := Spawn(context.Background(), "/bin/false", nil, nil, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := ReadAllChunked(ch.Stdout(), 1<<20); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := ch.Wait(); err == nil {
		t.Fatal("expected nonzero exit to produce an error")
	}
}

//go:build !windows

package weights

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fetch.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestCommandFetcher_PassesURLAndDir(t *testing.T) {
	bin := writeScript(t, "[ \"$1\" = \"-xf\" ] || exit 2\nmkdir -p \"$3\" && printf '%s' \"$2\" > \"$3/source\"\necho extracted\n")
	dest := filepath.Join(t.TempDir(), "checkpoints")
	p := New(CommandFetcher{Bin: bin, Args: []string{"-xf"}, Log: zerolog.Nop()}, zerolog.Nop())
	if err := p.Provision(context.Background(), "https://example.invalid/90b.tar", dest); err != nil {
		t.Fatalf("provision: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dest, "source"))
	if err != nil || string(b) != "https://example.invalid/90b.tar" {
		t.Fatalf("source=%q err=%v", b, err)
	}
}

func TestCommandFetcher_NonZeroExit(t *testing.T) {
	bin := writeScript(t, "mkdir -p \"$3\"\necho 'checksum mismatch' >&2\nexit 3\n")
	dest := filepath.Join(t.TempDir(), "checkpoints")
	err := New(CommandFetcher{Bin: bin, Args: []string{"-xf"}}, zerolog.Nop()).Provision(context.Background(), "u", dest)
	if !IsProvisionError(err) {
		t.Fatalf("expected ProvisionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("stderr tail missing from %q", err.Error())
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("dest must not exist after failed fetch")
	}
}

func TestCommandFetcher_MissingBinary(t *testing.T) {
	err := CommandFetcher{Bin: filepath.Join(t.TempDir(), "nope")}.Fetch(context.Background(), "u", t.TempDir())
	if err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"
)

func TestResolveSocketFromPOEMLET_SOCKET(t *testing.T) {
	t.Setenv("POEMLET_SOCKET", "/custom/poemlet.sock")
	got := resolveSocketPath()
	if got != "/custom/poemlet.sock" {
		t.Errorf("expected /custom/poemlet.sock, got %s", got)
	}
}

func TestResolveSocketPath(t *testing.T) {
	tests := []struct {
		name     string
		socket   string
		runtime  string
		expected string
	}{
		{"POEMLET_SOCKET wins", "/custom/poemlet.sock", "/run/user/1000", "/custom/poemlet.sock"},
		{"XDG_RUNTIME_DIR", "", "/run/user/1000", "/run/user/1000/poemlet.sock"},
		{"fallback", "", "", fmt.Sprintf("/tmp/poemlet-%d.sock", os.Getuid())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POEMLET_SOCKET", tt.socket)
			t.Setenv("XDG_RUNTIME_DIR", tt.runtime)
			if got := resolveSocketPath(); got != tt.expected {
				t.Errorf("resolveSocketPath() = %s, expected %s", got, tt.expected)
			}
		})
	}
}

func TestRootCmdRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"unexpected"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for positional argument")
	}
}

func TestRootCmdVersion(t *testing.T) {
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.String(); got != "poemletd version dev\n" {
		t.Errorf("unexpected version output %q", got)
	}
}

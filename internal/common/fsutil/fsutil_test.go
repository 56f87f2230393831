package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	cases := map[string]string{
		"":                "",
		"/abs/path":       "/abs/path",
		"rel/path":        "rel/path",
		"~":               home,
		"~/.cache/hf":     filepath.Join(home, ".cache/hf"),
		"~/voiceboot.log": filepath.Join(home, "voiceboot.log"),
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpandHomeAll(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	a, b := "~/a", "/b"
	if err := ExpandHomeAll(&a, nil, &b); err != nil {
		t.Fatalf("ExpandHomeAll: %v", err)
	}
	if a != filepath.Join(home, "a") || b != "/b" {
		t.Fatalf("got %q %q", a, b)
	}
}

func TestPathExistsAndEnsureParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deeper", "state.db")
	if PathExists(filepath.Dir(target)) {
		t.Fatalf("parent should not exist yet")
	}
	if err := EnsureParent(target); err != nil {
		t.Fatalf("EnsureParent: %v", err)
	}
	if !PathExists(filepath.Dir(target)) {
		t.Fatalf("parent not created")
	}
	if err := EnsureParent("state.db"); err != nil {
		t.Fatalf("EnsureParent for bare file: %v", err)
	}
}

func TestOnPath(t *testing.T) {
	if !OnPath("sh") {
		t.Skip("sh not on PATH")
	}
	if OnPath("definitely-not-a-real-binary-voiceboot") {
		t.Fatalf("unexpected hit")
	}
}

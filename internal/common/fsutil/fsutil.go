package fsutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ExpandHomeAll expands each non-nil path in place and stops at the first
// error.
func ExpandHomeAll(paths ...*string) error {
	for _, p := range paths {
		if p == nil {
			continue
		}
		v, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// EnsureParent creates the directory that will hold path.
func EnsureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// OnPath reports whether an executable named name is found on PATH.
func OnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

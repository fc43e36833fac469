package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

func FindProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)

	// Walk up the directory tree to find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("Could not find project root (go.mod not found)")
		}
		dir = parent
	}
}

// SplitList splits a comma separated value, trimming blanks and dropping empty items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// TrimOrigin normalizes an origin or base URL so that paths can be appended to it.
func TrimOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}

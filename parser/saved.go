package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PageExtensions lists the file extensions a saved page may carry on disk.
var PageExtensions = []string{".png", ".jpg", ".webp", ".gif"}

// PageFilename returns the canonical on-disk name for a page index, zero
// padded to three digits. ext must include the leading dot.
func PageFilename(index int, ext string) string {
	return fmt.Sprintf("%03d%s", index, ext)
}

// PagePath joins a save directory with the canonical page filename.
func PagePath(dir string, index int, ext string) string {
	return filepath.Join(dir, PageFilename(index, ext))
}

// SavedPages scans a save directory and returns the page indices that already
// have a file on disk, mapped to their filenames. The filesystem is the ground
// truth for "this index is saved": no in-memory ledger is kept between calls.
// When an index somehow has files under more than one extension, the first
// match in directory order wins.
func SavedPages(dir string) (map[int]string, error) {
	expanded, err := ExpandPath(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, err
	}

	saved := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		index, ok := parsePageFilename(entry.Name())
		if !ok {
			continue
		}
		if _, exists := saved[index]; exists {
			continue
		}
		saved[index] = entry.Name()
	}

	return saved, nil
}

// IsPageSaved reports whether any file for the page index exists, checking
// each allowed extension. Side-effect free. Like SavedPages it expands ~ so
// queries and scans agree on the same directory.
func IsPageSaved(dir string, index int) bool {
	if expanded, err := ExpandPath(dir); err == nil {
		dir = expanded
	}
	for _, ext := range PageExtensions {
		if _, err := os.Stat(PagePath(dir, index, ext)); err == nil {
			return true
		}
	}
	return false
}

// parsePageFilename extracts the page index from a name like "014.webp".
func parsePageFilename(name string) (int, bool) {
	ext := strings.ToLower(filepath.Ext(name))

	allowed := false
	for _, e := range PageExtensions {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, false
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	index, err := strconv.Atoi(stem)
	if err != nil || index < 1 {
		return 0, false
	}
	return index, true
}

// ExpandPath expands ~ to the user's home directory, or returns the path as-is
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}

package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFilenamePadsToThreeDigits(t *testing.T) {
	assert.Equal(t, "001.png", PageFilename(1, ".png"))
	assert.Equal(t, "042.webp", PageFilename(42, ".webp"))
	assert.Equal(t, "117.jpg", PageFilename(117, ".jpg"))
	assert.Equal(t, "1024.png", PageFilename(1024, ".png"))
}

func TestSavedPagesScansDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"001.png", "003.webp", "007.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	// Non-page files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpeg"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "005.png"), 0755))

	saved, err := SavedPages(dir)
	require.NoError(t, err)

	assert.Equal(t, map[int]string{
		1: "001.png",
		3: "003.webp",
		7: "007.jpg",
	}, saved)
}

func TestSavedPagesMissingDirIsEmpty(t *testing.T) {
	saved, err := SavedPages(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestIsPageSaved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002.webp"), []byte("x"), 0644))

	assert.True(t, IsPageSaved(dir, 2))
	assert.False(t, IsPageSaved(dir, 1))
	assert.False(t, IsPageSaved(dir, 3))
}

func TestSavedPagesAndQueriesAgreeOnHomePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, "chapter")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(PagePath(dir, 1, ".png"), []byte("x"), 0644))

	// A page written under the expanded path must be visible through the
	// ~ form of the same directory.
	saved, err := SavedPages("~/chapter")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "001.png"}, saved)

	assert.True(t, IsPageSaved("~/chapter", 1))
	assert.False(t, IsPageSaved("~/chapter", 2))
}

func TestParsePageFilename(t *testing.T) {
	index, ok := parsePageFilename("014.webp")
	assert.True(t, ok)
	assert.Equal(t, 14, index)

	_, ok = parsePageFilename("abc.png")
	assert.False(t, ok)

	_, ok = parsePageFilename("000.png")
	assert.False(t, ok)

	_, ok = parsePageFilename("005.tiff")
	assert.False(t, ok)
}

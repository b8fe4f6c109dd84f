package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsCreatesTemplate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	settings := LoadSettings()

	assert.Equal(t, DefaultSettings(), settings)
	assert.FileExists(t, filepath.Join(os.Getenv("HOME"), ".config", "mikan", "config.json"))
}

func TestSaveAndLoadSettingsRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	want := DefaultSettings()
	want.RequestsPerMinute = 40
	want.Concurrency = 5
	want.ConvertToJPEG = true

	require.NoError(t, SaveSettings(want))
	assert.Equal(t, want, LoadSettings())
}

func TestLoadSettingsMangledConfigFallsBack(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := ConfigDirectory()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0644))

	assert.Equal(t, DefaultSettings(), LoadSettings())
}

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"mikan/parser"
)

// Settings holds the user-tunable download knobs, persisted as JSON under
// ~/.config/mikan/config.json.
type Settings struct {
	RequestsPerMinute int  `json:"requests_per_minute"`
	Concurrency       int  `json:"concurrency"`
	Rounds            int  `json:"rounds"`
	RoundDelayMs      int  `json:"round_delay_ms"`
	Retries           int  `json:"retries"`
	RetryDelayMs      int  `json:"retry_delay_ms"`
	TimeoutSeconds    int  `json:"timeout_seconds"`
	ConvertToJPEG     bool `json:"convert_to_jpeg"`
	RequireComplete   bool `json:"require_complete"`
	DebugLog          bool `json:"debug_log"`
}

// DefaultSettings returns the values written into a fresh config file.
func DefaultSettings() Settings {
	return Settings{
		RequestsPerMinute: 60,
		Concurrency:       3,
		Rounds:            3,
		RoundDelayMs:      1200,
		Retries:           2,
		RetryDelayMs:      1000,
		TimeoutSeconds:    30,
		ConvertToJPEG:     false,
		RequireComplete:   false,
		DebugLog:          false,
	}
}

// LoadSettings reads the config file, creating it with defaults first if it
// does not exist. Read or parse errors fall back to defaults so a mangled
// config never blocks a download.
func LoadSettings() Settings {
	configFile, err := verifyConfigFiles()
	if err != nil {
		log.Printf("error verifying config files: %v", err)
		return DefaultSettings()
	}

	file, err := os.Open(configFile)
	if err != nil {
		log.Printf("error loading config file: %v", err)
		return DefaultSettings()
	}
	defer file.Close()

	byteValues, err := io.ReadAll(file)
	if err != nil {
		log.Printf("error reading config file: %v", err)
		return DefaultSettings()
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(byteValues, &settings); err != nil {
		log.Printf("error unmarshalling config: %v", err)
		return DefaultSettings()
	}

	return settings
}

// EnableDebugLog opens the rotating debug logger under the config directory
// when the debug_log setting is on. A no-op otherwise.
func (s Settings) EnableDebugLog() error {
	if !s.DebugLog {
		return nil
	}
	configDir, err := verifyConfigDirectory()
	if err != nil {
		return err
	}
	return InitDebugLogger(configDir)
}

// SaveSettings writes settings to ~/.config/mikan/config.json.
func SaveSettings(settings Settings) error {
	configDir, err := verifyConfigDirectory()
	if err != nil {
		return fmt.Errorf("error verifying config directory: %w", err)
	}

	configFile := filepath.Join(configDir, "config.json")

	jsonData, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configFile, jsonData, 0644)
}

// ConfigDirectory returns the config directory path, creating it if needed.
func ConfigDirectory() (string, error) {
	return verifyConfigDirectory()
}

// check config directory exists or create it
func verifyConfigDirectory() (string, error) {
	configDirectory, expandError := parser.ExpandPath("~/.config/mikan")
	if expandError != nil {
		return "", fmt.Errorf("cannot verify local configuration directory: %w", expandError)
	}

	_, err := os.Stat(configDirectory)

	if os.IsNotExist(err) {
		if err := os.MkdirAll(configDirectory, 0755); err != nil {
			return "", fmt.Errorf("error creating directory %s: %w", configDirectory, err)
		}
		log.Printf("Directory %s created successfully.\n", configDirectory)
	} else if err != nil {
		return "", fmt.Errorf("error checking directory %s: %w", configDirectory, err)
	}

	return configDirectory, nil
}

// check config file exists or create it with defaults
func verifyConfigFiles() (string, error) {
	configDir, err := verifyConfigDirectory()
	if err != nil {
		return "", err
	}

	configFile := filepath.Join(configDir, "config.json")

	_, err = os.Stat(configFile)

	if os.IsNotExist(err) {
		log.Printf("Config file not found, creating template at '%s'\n", configFile)

		if saveErr := SaveSettings(DefaultSettings()); saveErr != nil {
			return "", fmt.Errorf("error creating config file: %w", saveErr)
		}
		log.Printf("File '%s' created successfully.\n", configFile)

	} else if err != nil {
		return "", fmt.Errorf("error checking file existence: %w", err)
	}

	return configFile, nil
}

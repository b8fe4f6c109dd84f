package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	maxLogSize       = 10 * 1024 * 1024 // 10MB
	maxLogFiles      = 3                // Keep 3 backup files
	debugLogFileName = "debug.log"
)

var (
	debugLogger *log.Logger
	debugFile   *os.File
	debugMutex  sync.Mutex
	debugSize   int64
	debugDir    string
)

// InitDebugLogger opens the rotating debug log under the config directory.
// Call once during startup when the debug_log setting is enabled.
func InitDebugLogger(configDir string) error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugDir = configDir
	logPath := filepath.Join(configDir, debugLogFileName)

	// Rotate before opening if the previous run left an oversized file.
	if info, err := os.Stat(logPath); err == nil {
		debugSize = info.Size()
		if debugSize >= maxLogSize {
			if err := rotateDebugLogs(); err != nil {
				return fmt.Errorf("failed to rotate debug logs: %w", err)
			}
			debugSize = 0
		}
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open debug log file: %w", err)
	}

	debugFile = file
	debugLogger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)

	logDebug("=== Debug Logger Initialized ===")
	logDebug("Log file: %s", logPath)

	return nil
}

// CloseDebugLogger closes the debug log file handle.
func CloseDebugLogger() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		logDebug("=== Debug Logger Closing ===")
		debugFile.Close()
		debugFile = nil
		debugLogger = nil
	}
}

func rotateDebugLogs() error {
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}

	basePath := filepath.Join(debugDir, debugLogFileName)

	oldestBackup := fmt.Sprintf("%s.%d", basePath, maxLogFiles)
	os.Remove(oldestBackup) // Ignore error if file doesn't exist

	for i := maxLogFiles - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", basePath, i)
		newPath := fmt.Sprintf("%s.%d", basePath, i+1)
		os.Rename(oldPath, newPath) // Ignore error if source doesn't exist
	}

	if err := os.Rename(basePath, basePath+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// logDebug writes a message with automatic rotation. Caller must hold no
// assumptions about initialization; uninitialized logging is a no-op.
func logDebug(format string, args ...interface{}) {
	if debugLogger == nil {
		return
	}

	message := fmt.Sprintf(format, args...)
	debugLogger.Output(2, message)

	// Rough size estimate including timestamp prefix.
	debugSize += int64(len(message) + 50)

	if debugSize >= maxLogSize {
		if err := rotateDebugLogs(); err != nil {
			log.Printf("Failed to rotate debug logs: %v", err)
			return
		}

		logPath := filepath.Join(debugDir, debugLogFileName)
		file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("Failed to reopen debug log after rotation: %v", err)
			return
		}

		debugFile = file
		debugLogger = log.New(file, "", log.LstdFlags|log.Lmicroseconds)
		debugSize = 0

		logDebug("=== Log Rotated ===")
	}
}

// LogRequest records an outgoing page fetch.
func LogRequest(url, userAgent string, cookieLen int) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDebug(">>> OUTGOING REQUEST >>>")
	logDebug("  URL: %s", url)
	logDebug("  User-Agent: %s", userAgent)
	logDebug("  Cookie header length: %d", cookieLen)
	logDebug("<<<")
}

// LogResponse records an incoming page response.
func LogResponse(url string, statusCode, bodySize int, contentType string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDebug("<<< INCOMING RESPONSE <<<")
	logDebug("  URL: %s", url)
	logDebug("  Status Code: %d", statusCode)
	logDebug("  Body Size: %d bytes", bodySize)
	logDebug("  Content-Type: %s", contentType)
	logDebug(">>>")
}

// LogPageSaved records a page landing on disk.
func LogPageSaved(index int, path string, bytes int) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDebug("=== PAGE SAVED ===")
	logDebug("  Index: %d", index)
	logDebug("  Path: %s", path)
	logDebug("  Size: %d bytes", bytes)
	logDebug("===")
}

// LogDownloadError records a download failure with its context.
func LogDownloadError(context, url string, err error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDebug("!!! ERROR !!!")
	logDebug("  Context: %s", context)
	logDebug("  URL: %s", url)
	logDebug("  Error: %v", err)
	logDebug("!!!")
}

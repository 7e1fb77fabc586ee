// Package fsutil provides file and path utility functions for the mixdown
// service.
//
// This package focuses on platform-agnostic ways to handle artifact paths,
// format data for display, and sanitize filenames, adhering to Go's best
// practices for clarity, error handling, and maintainability.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Common path constants.
const (
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
)

// Unique name generation limits.
const (
	maxNameCollisions = 1000
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// File extension constants.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extJSON = ".json"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
)

// EnsureDir ensures a directory exists at the given path, creating it if it
// doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		// MkdirAll is used to create parent directories as needed.
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(
				errFmtFailedToCreateDir,
				path,
				mkdirErr,
			)
		}
	}

	return nil
}

// UniqueName generates a filename that does not collide with existing files
// in the directory. It tries base.ext first, then base_1.ext through
// base_1000.ext, and finally falls back to a timestamp suffix.
func UniqueName(dir, base, ext string) string {
	return UniqueNameFunc(base, ext, func(name string) bool {
		return exists(filepath.Join(dir, name))
	})
}

// UniqueNameFunc is UniqueName against an arbitrary existence probe, so
// remote namespaces can use the same collision policy.
func UniqueNameFunc(base, ext string, taken func(name string) bool) string {
	name := joinName(base, ext)
	if !taken(name) {
		return name
	}

	for counter := 1; counter <= maxNameCollisions; counter++ {
		candidate := joinName(fmt.Sprintf("%s_%d", base, counter), ext)
		if !taken(candidate) {
			return candidate
		}
	}

	timestamp := time.Now().Unix()

	return joinName(fmt.Sprintf("%s_%d", base, timestamp), ext)
}

func joinName(base, ext string) string {
	if ext == "" {
		return SanitizeFilename(base)
	}

	return SanitizeFilename(base + dot + ext)
}

func exists(path string) bool {
	_, statErr := os.Stat(path)

	return statErr == nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h
// 15m", "5m 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2
// GB", "500.5 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// IsConfigFile checks if a filename has the companion config extension.
func IsConfigFile(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == extJSON
}

// GetFileExtension returns the file extension without the leading dot.
func GetFileExtension(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), dot)
}

// BaseName returns the filename without directory or extension.
func BaseName(filename string) string {
	name := filepath.Base(filename)

	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SanitizeFilename removes or replaces characters that are invalid in most
// filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

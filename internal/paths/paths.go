// Package paths resolves the filesystem locations the service depends on:
// the extractor binary, an ffmpeg command name, and the
// optional credentials file the extractor driver attaches as --cookies.
package paths

import (
	"os"
	"os/exec"
	"path/filepath"
)

const (
	// CredentialsFileName lives in the process working directory, per
	// spec.md §4.4 ("if a credentials file exists in the process working
	// directory, append --cookies <path>").
	CredentialsFileName = "cookies.txt"

	// SettingsFileName is the naming-templates file, also relative to
	// the process working directory (spec.md §6 "working directory is
	// significant").
	SettingsFileName = "naming-templates.json"
)

// ExtractorBinary resolves the extractor command. It honors an
// EXTRACTOR_BIN override, then falls back to "yt-dlp" on $PATH.
func ExtractorBinary() string {
	if bin := os.Getenv("EXTRACTOR_BIN"); bin != "" {
		return bin
	}
	return "yt-dlp"
}

// FFmpegBinary resolves an ffmpeg command name. Honors an FFMPEG_BIN
// override, falls back to "ffmpeg". Nothing in this module calls it: the
// extractor's argument vector carries no ffmpeg location, so the
// extractor finds ffmpeg on its own.
func FFmpegBinary() string {
	if bin := os.Getenv("FFMPEG_BIN"); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// LookPath reports whether the named binary resolves on $PATH (or is
// itself an absolute path to an existing file). Used by the health
// endpoint to surface extractor availability without invoking it.
func LookPath(bin string) (string, bool) {
	if filepath.IsAbs(bin) {
		if info, err := os.Stat(bin); err == nil && !info.IsDir() {
			return bin, true
		}
		return "", false
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return "", false
	}
	return resolved, true
}

// CredentialsPath returns the path to the cookies file in the current
// working directory, and whether it exists.
func CredentialsPath() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	path := filepath.Join(wd, CredentialsFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// SettingsPath returns the path to the naming-templates file in the
// current working directory.
func SettingsPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, SettingsFileName), nil
}

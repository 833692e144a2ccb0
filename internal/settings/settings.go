// Package settings implements the Settings Store (spec.md §4.8): atomic
// read/write of the naming-templates file that lives at a fixed
// location relative to the process's working directory.
//
// Grounded on the teacher's internal/config/config.go Load/Save
// (JSON file, defaults-on-missing-file), upgraded to the
// write-to-temp-then-rename protocol from the teacher's
// internal/launcher/launcher.go download-then-rename pattern, per
// spec.md §4.8's explicit "readers never see a partial file"
// requirement — config.go's own Save used a direct os.WriteFile.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	apperr "ytfetch/internal/errors"
	"ytfetch/internal/paths"
)

// NamingTemplates is the four-template shape spec.md §3 defines.
type NamingTemplates struct {
	Single   ModeTemplates `json:"single"`
	Playlist ModeTemplates `json:"playlist"`
}

// ModeTemplates holds the per-mode template pair within a content type.
type ModeTemplates struct {
	Video string `json:"video"`
	Audio string `json:"audio"`
}

// Defaults returns spec.md §3's default naming templates.
func Defaults() NamingTemplates {
	return NamingTemplates{
		Single: ModeTemplates{
			Video: "<title> - <quality>",
			Audio: "<title>",
		},
		Playlist: ModeTemplates{
			Video: "<index> - <title> - <quality>",
			Audio: "<index> - <title>",
		},
	}
}

// document is the on-disk shape. Declared separately from
// NamingTemplates so that adding sibling settings later doesn't
// change the public type callers already depend on.
type document struct {
	NamingTemplates *NamingTemplates `json:"namingTemplates"`
}

// Load reads the naming templates from the fixed settings path. A
// missing file yields Defaults() with no error. A present file missing
// the namingTemplates key is filled in from Defaults() without failing,
// per spec.md §4.8.
func Load() (NamingTemplates, error) {
	path, err := paths.SettingsPath()
	if err != nil {
		return Defaults(), apperr.Wrap("settings.Load", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Defaults(), apperr.WrapWithMessage("settings.Load", apperr.ErrSettingsIO, err.Error())
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Defaults(), apperr.WrapWithMessage("settings.Load", apperr.ErrSettingsIO, "malformed settings file")
	}
	if doc.NamingTemplates == nil {
		defaults := Defaults()
		return defaults, nil
	}
	return *doc.NamingTemplates, nil
}

// Save atomically replaces the settings file's contents with nt: it
// writes to a temp file in the same directory, then renames it over
// the final path, so a concurrent reader never observes a partial
// write (spec.md §4.8, §5).
func Save(nt NamingTemplates) error {
	path, err := paths.SettingsPath()
	if err != nil {
		return apperr.Wrap("settings.Save", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}

	data, err := json.MarshalIndent(document{NamingTemplates: &nt}, "", "  ")
	if err != nil {
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}

	tmp, err := os.CreateTemp(dir, ".naming-templates-*.tmp")
	if err != nil {
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return apperr.WrapWithMessage("settings.Save", apperr.ErrSettingsIO, err.Error())
	}
	return nil
}

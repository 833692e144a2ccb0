// Package filesafe implements the filename sanitization and collision
// resolution rules that both the template resolver and the job
// orchestrator depend on (spec.md §4.2).
package filesafe

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// replacements is applied in table order so multi-character
// replacements (":"  -> " - ") never get clobbered by a later rule.
// ": " is matched before a bare ":" so "a: b" becomes "a - b", not
// "a -  b".
var replacements = []struct {
	old string
	new string
}{
	{": ", " - "},
	{":", " - "},
	{"/", "_"},
	{"\\", "_"},
	{"?", ""},
	{"\"", "'"},
	{"<", "["},
	{">", "]"},
	{"|", "-"},
	{"*", "_"},
}

// Sanitize maps each reserved filesystem character to its replacement
// and trims trailing whitespace and dots. Grounded on the teacher's
// internal/validate.go Filename helper, narrowed to the spec's exact
// substitution table instead of a blanket underscore.
func Sanitize(value string) string {
	out := value
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r.old, r.new)
	}
	return strings.TrimRight(out, " .")
}

// UniqueName returns path if it doesn't exist, otherwise the first
// "<base> (N).<ext>" variant (N = 2, 3, ...) that doesn't exist.
// Idempotent over a stable filesystem: calling it twice on the same
// input without anything being created in between yields the same
// result both times.
func UniqueName(path string) (string, error) {
	if !exists(path) {
		return path, nil
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for n := 2; ; n++ {
		candidate := filepath.Join(dir, base+" ("+strconv.Itoa(n)+")"+ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// ReserveUnique atomically claims a non-existing path derived from
// base the same way UniqueName would choose it, but without the
// exists-then-rename TOCTOU window: it opens each candidate with
// O_CREATE|O_EXCL, keeping the first one that succeeds, and returns
// an open, empty, zero-length placeholder file the caller renames
// its artifact over. Per DESIGN NOTES §9, this is the "create-if-
// not-exists" primitive substituted for the naive exists() check.
func ReserveUnique(base string) (*os.File, string, error) {
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(filepath.Base(base), ext)

	candidate := base
	for n := 1; ; n++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		candidate = filepath.Join(dir, stem+" ("+strconv.Itoa(n+1)+")"+ext)
	}
}

// Package sizeest implements the Size Estimator (spec.md §4.7): a
// pre-flight, --skip-download invocation of the extractor that sums the
// filesize/filesize_approx fields of its NDJSON output.
//
// Grounded on the teacher's internal/youtube/youtube.go GetPlaylistInfo:
// the same subprocess-then-parse-each-line shape, generalized from
// "build a []VideoInfo" to "sum a byte count," and from "parse one JSON
// blob or fall back to line scanning" to spec.md §4.7's simpler "always
// NDJSON, one record per line" contract.
package sizeest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os/exec"
	"strconv"
	"strings"

	apperr "ytfetch/internal/errors"
	"ytfetch/internal/extractor"
	"ytfetch/internal/paths"
	"ytfetch/internal/progress"
)

// Options carries the query parameters spec.md §6's POST /api/filesize
// accepts.
type Options struct {
	URL           string
	Mode          progress.Mode
	Quality       string // video mode only
	Format        string // audio mode only; drives the projection factor
	PlaylistItems string // optional, spec.md §4.7's comma/range grammar
}

// record is the subset of an extractor NDJSON line this package reads.
// filesize is preferred over filesize_approx when both are present, per
// spec.md §4.7's "whichever is present, in that order."
type record struct {
	Filesize       int64 `json:"filesize"`
	FilesizeApprox int64 `json:"filesize_approx"`
}

// Estimate runs the extractor's --skip-download pre-flight query and
// returns the summed byte total. Audio mode applies the format's
// projection factor once, here, on write — the download-manager path
// applies its own copy of the same table on read (progress.Registry.Get);
// per spec.md §9's resolved open question, a consumer never sees the
// factor applied twice.
func Estimate(ctx context.Context, opts Options) (int64, error) {
	if opts.PlaylistItems != "" && !ValidPlaylistItems(opts.PlaylistItems) {
		return 0, apperr.NewWithMessage("sizeest.Estimate", apperr.ErrInvalidURL, "malformed playlist-items spec")
	}

	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, paths.ExtractorBinary(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, apperr.WrapWithMessage("sizeest.Estimate", apperr.ErrSpawnFailed, strings.TrimSpace(stderr.String()))
	}

	total := sumSizes(stdout.Bytes())
	if opts.Mode == progress.ModeAudio && opts.Format != "" {
		if factor, ok := progress.ProjectionFactor(opts.Format); ok {
			total = int64(math.Round(float64(total) * factor))
		}
	}
	return total, nil
}

func buildArgs(opts Options) []string {
	args := []string{"--skip-download", "-j", "--ignore-errors", "--no-warnings"}
	if opts.Mode != progress.ModeAudio {
		args = append(args, "-f", extractor.QualitySelector(opts.Quality))
	}
	if opts.PlaylistItems != "" {
		args = append(args, "--playlist-items", opts.PlaylistItems)
	}
	return append(args, opts.URL)
}

// sumSizes walks output line by line (NDJSON, one record per video) and
// sums each record's filesize or filesize_approx. Lines that don't parse
// are skipped rather than failing the whole estimate, since --ignore-errors
// already means some entries may be empty/malformed upstream.
func sumSizes(output []byte) int64 {
	var total int64
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		switch {
		case rec.Filesize > 0:
			total += rec.Filesize
		case rec.FilesizeApprox > 0:
			total += rec.FilesizeApprox
		}
	}
	return total
}

// ValidPlaylistItems reports whether spec matches the extractor's own
// playlist-items grammar: a comma-separated list where each element is
// either an integer or an "A-B" range, per spec.md §4.7.
func ValidPlaylistItems(spec string) bool {
	if spec == "" {
		return false
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return false
		}
		if !validItem(part) {
			return false
		}
	}
	return true
}

func validItem(part string) bool {
	if a, b, ok := strings.Cut(part, "-"); ok {
		return isPositiveInt(a) && isPositiveInt(b)
	}
	return isPositiveInt(part)
}

func isPositiveInt(s string) bool {
	if s == "" {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

// Package metadata implements the subprocess-backed lookup behind
// POST /api/metadata (spec.md §6): given a sanitized URL, return the
// platform metadata the HTTP client needs to populate a filename
// template (title, channel, duration, thumbnail) before it submits a
// download.
//
// Grounded on the teacher's internal/youtube/youtube.go GetVideoInfo
// (single item, --dump-json --no-playlist) and GetPlaylistInfo (the
// "try a nested playlist object first, fall back to one-object-per-line"
// parse), narrowed to the fields spec.md's Template Engine actually
// consumes (<title>, <channel>, <date>, <format>) plus duration/
// thumbnail for display.
package metadata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	apperr "ytfetch/internal/errors"
	"ytfetch/internal/paths"
)

// Item is one video's metadata, or one playlist entry's.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Duration  int64  `json:"duration"`
	Thumbnail string `json:"thumbnail"`
}

// Result is the response shape for POST /api/metadata: a single item,
// or — when the URL resolves to a playlist — IsPlaylist plus Entries.
type Result struct {
	Item
	IsPlaylist bool   `json:"isPlaylist"`
	Entries    []Item `json:"entries,omitempty"`
}

// rawItem mirrors the extractor's --dump-json field names, which don't
// match Item's (channel vs. uploader) and aren't always present.
type rawItem struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Channel   string  `json:"channel"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
}

func (r rawItem) toItem() Item {
	channel := r.Channel
	if channel == "" {
		channel = r.Uploader
	}
	return Item{
		ID:        r.ID,
		Title:     r.Title,
		Channel:   channel,
		Duration:  int64(r.Duration),
		Thumbnail: r.Thumbnail,
	}
}

// Fetch queries the extractor for url's metadata. It tries a single
// --dump-json --no-playlist call first (the common case); on failure
// or when the underlying JSON declares itself a playlist, it retries
// without --no-playlist and collects one Item per NDJSON line.
func Fetch(ctx context.Context, url string) (Result, error) {
	single, err := fetchSingle(ctx, url)
	if err == nil {
		return Result{Item: single}, nil
	}

	entries, err := fetchPlaylist(ctx, url)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, apperr.NewWithMessage("metadata.Fetch", apperr.ErrNoArtifact, "no metadata returned for url")
	}
	return Result{Item: entries[0], IsPlaylist: true, Entries: entries}, nil
}

func fetchSingle(ctx context.Context, url string) (Item, error) {
	args := []string{"--dump-json", "--no-playlist", "--no-check-certificate", "--no-warnings", "--ignore-errors", url}
	output, err := run(ctx, args)
	if err != nil {
		return Item{}, err
	}

	var raw rawItem
	if err := json.Unmarshal(output, &raw); err != nil {
		return Item{}, err
	}
	return raw.toItem(), nil
}

func fetchPlaylist(ctx context.Context, url string) ([]Item, error) {
	args := []string{"--dump-json", "--no-check-certificate", "--no-warnings", "--ignore-errors", url}
	output, err := run(ctx, args)
	if err != nil {
		return nil, err
	}

	var items []Item
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw rawItem
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		items = append(items, raw.toItem())
	}
	return items, nil
}

func run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, paths.ExtractorBinary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, apperr.NewWithMessage("metadata.run", apperr.ErrSpawnFailed, msg)
	}
	return stdout.Bytes(), nil
}

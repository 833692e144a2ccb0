// Package extractor drives the external extractor subprocess (spec.md
// §4.4): it builds the argument vector, spawns the process, and parses
// its streaming stdout into Progress Accountant calls. Grounded on the
// teacher's internal/youtube/youtube.go Download method — the
// \r-normalizing scanner split func, the kill-on-context-cancel (here via
// exec.CommandContext), and the setSysProcAttr split across
// proc_unix.go/proc_windows.go all carry over — but the ad-hoc regex
// matching is replaced with the small stage/lastToken state machine
// DESIGN NOTES §9 recommends, and stdout parsing calls directly into
// internal/progress rather than a callback the caller re-interprets.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"ytfetch/internal/logger"
	"ytfetch/internal/paths"
	"ytfetch/internal/progress"
)

// Options carries everything the Driver needs to build an argv and
// interpret its own output for a single job.
type Options struct {
	JobID             string
	URL               string
	Mode              progress.Mode
	Quality           string // e.g. "1080p", "highest"; video mode only
	Format            string // mp3|m4a|wav|opus; audio mode only
	OutputDir         string // effectiveOutputFolder, spec.md §4.5 step 1
	DownloadSubtitles bool
	SubtitleLanguage  string // "auto" or "en"
	CookiesPath       string // "" when no credentials file is present
}

// qualitySelectors maps the fixed quality tags from spec.md §4.4 to a
// yt-dlp format selector. "highest" and anything unrecognized fall back
// to bestOverall.
var qualitySelectors = map[string]string{
	"2160p": "bestvideo[height<=2160][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"1440p": "bestvideo[height<=1440][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"1080p": "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"720p":  "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"480p":  "bestvideo[height<=480][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"360p":  "bestvideo[height<=360][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
}

const bestOverallSelector = "best[ext=mp4]"

func qualitySelector(quality string) string {
	if sel, ok := qualitySelectors[quality]; ok {
		return sel
	}
	return bestOverallSelector
}

// QualitySelector exposes qualitySelector for internal/sizeest, which
// needs the same `-f` selector for its --skip-download pre-flight query
// as the real download uses.
func QualitySelector(quality string) string {
	return qualitySelector(quality)
}

// buildArgs returns the extractor's argument vector in the exact order
// spec.md §4.4 specifies: mode-specific flags, then the shared output
// and quiet-mode flags, then optional subtitle and credential flags,
// and finally the request URL.
func buildArgs(opts Options) []string {
	var args []string

	if opts.Mode == progress.ModeAudio {
		format := opts.Format
		if format == "" {
			format = "mp3"
		}
		args = append(args, "-x", "--audio-format="+format, "--audio-quality=0")
	} else {
		args = append(args, "-f", qualitySelector(opts.Quality), "--remux-video=mp4")
	}

	args = append(args,
		"-o", fmt.Sprintf("%s/%s.temp.%%(ext)s", opts.OutputDir, opts.JobID),
		"--no-warnings",
		"--newline",
	)

	if opts.Mode != progress.ModeAudio && opts.DownloadSubtitles {
		args = append(args, "--embed-subs")
		if opts.SubtitleLanguage == "en" {
			args = append(args, "--sub-langs", "en.*")
		}
	}

	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}

	args = append(args, opts.URL)
	return args
}

// Handle is a running extractor subprocess. Kill implements the
// pause/cancel termination semantics of spec.md §4.4: it signals the
// whole process group so a child ffmpeg/post-processor doesn't survive
// its parent.
type Handle struct {
	cmd  *exec.Cmd
	done chan error
}

// Wait blocks until the subprocess exits and returns its exec error (nil
// on a clean exit), mirroring exec.Cmd.Wait's contract.
func (h *Handle) Wait() error {
	return <-h.done
}

// Kill terminates the subprocess (and its process group, where the
// platform supports it). Safe to call after the process has already
// exited.
func (h *Handle) Kill() error {
	return killProcessGroup(h.cmd)
}

// Pid returns the OS process id, or 0 if the process never started.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Driver spawns and supervises extractor subprocesses.
type Driver struct{}

// NewDriver returns a ready-to-use Driver. It carries no state: every
// invocation is independent, matching spec.md §4.4's "one extractor
// subprocess per job" model.
func NewDriver() *Driver {
	return &Driver{}
}

// Start builds the argv for opts, spawns the extractor subprocess, and
// begins streaming its stdout into reg via the state machine in
// parseLines. It returns as soon as the process has started — the
// caller uses the returned Handle to Wait or Kill concurrently, per
// spec.md §5's requirement that pause/cancel not block on subprocess
// I/O held under any lock.
func (d *Driver) Start(ctx context.Context, reg *progress.Registry, opts Options) (*Handle, error) {
	args := buildArgs(opts)
	cmd := exec.CommandContext(ctx, paths.ExtractorBinary(), args...)
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{cmd: cmd, done: make(chan error, 1)}

	go streamStderr(opts.JobID, stderr)
	go func() {
		parseLines(opts.JobID, opts.Mode, reg, stdout)
	}()
	go func() {
		h.done <- cmd.Wait()
	}()

	return h, nil
}

// newlineSplit is a bufio.SplitFunc that treats both '\r' and '\n' as
// line terminators, so the extractor's progress-in-place '\r' rewrites
// surface as discrete lines instead of piling up in one buffered read.
// Grounded on youtube.go's inline scanner.Split closure.
func newlineSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[0:i], nil
		}
		return i + 1, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineState is the small state machine DESIGN NOTES §9 calls for: the
// only thing parseLines needs to remember across lines is the stage it
// last told the Accountant about, so it can detect transitions.
type lineState struct {
	stage progress.Stage
}

// parseLines implements the stdout event grammar of spec.md §4.4,
// calling directly into reg as each recognized line arrives.
func parseLines(jobID string, mode progress.Mode, reg *progress.Registry, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Split(newlineSplit)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	st := &lineState{stage: progress.StageVideo}
	if mode == progress.ModeAudio {
		st.stage = progress.StageAudio
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handleLine(jobID, mode, reg, st, line)
	}
}

func handleLine(jobID string, mode progress.Mode, reg *progress.Registry, st *lineState, line string) {
	switch {
	case strings.Contains(line, "[download]") && strings.Contains(line, "Destination:"):
		if stage, ok := destinationStage(line); ok {
			st.stage = stage
			reg.SetStage(jobID, stage)
		}

	case strings.Contains(line, "[Merger]"):
		st.stage = progress.StageMerging
		reg.SetStage(jobID, progress.StageMerging)
		reg.SetStatus(jobID, progress.StatusConverting)

	case containsPostProcessingMarker(line):
		reg.SetStatus(jobID, progress.StatusConverting)

	case strings.Contains(line, "[download]") && strings.Contains(line, "%"):
		pct, total, ok := parseProgressLine(line)
		if ok {
			if total > 0 {
				reg.SetStageTotalBytes(jobID, total)
				downloaded := int64(float64(total) * pct / 100)
				reg.UpdateProgress(jobID, downloaded)
			}
			if mode == progress.ModeAudio && pct >= 99 {
				reg.SetStatus(jobID, progress.StatusConverting)
			}
		}
	}
}

// destinationStage classifies a "[download] Destination: <path>" line by
// its file extension, per spec.md §4.4's stage-inference rule.
func destinationStage(line string) (progress.Stage, bool) {
	idx := strings.Index(line, "Destination:")
	if idx < 0 {
		return "", false
	}
	path := strings.TrimSpace(line[idx+len("Destination:"):])
	switch {
	case strings.HasSuffix(path, ".m4a"), strings.HasSuffix(path, ".mp3"), strings.HasSuffix(path, ".opus"):
		return progress.StageAudio, true
	case strings.HasSuffix(path, ".mp4") && !strings.Contains(path, ".m4a"):
		return progress.StageVideo, true
	default:
		return "", false
	}
}

var postProcessingMarkers = []string{
	"[ExtractAudio]",
	"[FixupM4a]",
	"[ffmpeg]",
	"[Metadata]",
	"[EmbedSubtitle]",
	"[Thumbnails]",
	"Deleting original file",
}

func containsPostProcessingMarker(line string) bool {
	for _, marker := range postProcessingMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseProgressLine extracts a percentage and, when present, a total
// size of the form "of ~12.3MiB" from a "[download]  42.0% of ..." line.
// Regex-free by design, per DESIGN NOTES §9.
func parseProgressLine(line string) (pct float64, totalBytes int64, ok bool) {
	percentIdx := strings.IndexByte(line, '%')
	if percentIdx < 0 {
		return 0, 0, false
	}
	start := percentIdx
	for start > 0 && isNumeric(line[start-1]) {
		start--
	}
	if start == percentIdx {
		return 0, 0, false
	}
	pct, err := strconv.ParseFloat(line[start:percentIdx], 64)
	if err != nil {
		return 0, 0, false
	}

	ofIdx := strings.Index(line, "of ")
	if ofIdx < 0 {
		return pct, 0, true
	}
	rest := strings.TrimSpace(line[ofIdx+len("of "):])
	rest = strings.TrimPrefix(rest, "~")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return pct, 0, true
	}
	size, ok := parseSize(fields[0])
	if !ok {
		return pct, 0, true
	}
	return pct, size, true
}

func isNumeric(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.'
}

// sizeUnits maps the units spec.md §4.4 names — binary (KiB/MiB/GiB)
// and their SI counterparts (K/M/G) — to a byte multiplier.
var sizeUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"GiB", 1024 * 1024 * 1024},
	{"MiB", 1024 * 1024},
	{"KiB", 1024},
	{"B", 1},
	{"G", 1_000_000_000},
	{"M", 1_000_000},
	{"K", 1_000},
}

// parseSize parses a token like "5.00MiB" or "123B" into a byte count.
// Units are matched longest-suffix-first so "MiB" isn't mistaken for "M".
func parseSize(token string) (int64, bool) {
	for _, u := range sizeUnits {
		if strings.HasSuffix(token, u.suffix) {
			numPart := strings.TrimSuffix(token, u.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, false
			}
			return int64(n * u.multiplier), true
		}
	}
	return 0, false
}

// streamStderr logs extractor stderr lines without feeding them into
// the progress state machine, per spec.md §4.4: "stderr lines are
// logged but do not drive state."
func streamStderr(jobID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Split(newlineSplit)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Log.Debug().Str("jobId", jobID).Str("stream", "stderr").Msg(line)
	}
}

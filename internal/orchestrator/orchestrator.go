// Package orchestrator implements the Job Orchestrator (spec.md §4.5):
// the lifecycle of a single download job — register, run, pause,
// resume, cancel — and the quarantine-then-rename protocol that turns
// an extractor temp artifact into the caller's final filename.
//
// Grounded on the teacher's internal/downloader/manager.go Manager:
// the job map guarded by a mutex, the phase-tagged structured logging
// (traceID/phase fields on every log line), and the processJob/failJob/
// cancelJob/completeJob split all carry over. Two things don't: the
// teacher's sqlite-backed storage.DownloadRepository (spec.md's
// NON-GOALS rule out cross-restart durability, so the registry here is
// a plain in-memory map via internal/progress) and the cyclic
// Manager/Client coupling, inverted per DESIGN NOTES §9 — this package
// calls into internal/progress and internal/extractor; neither calls
// back into it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	apperr "ytfetch/internal/errors"
	"ytfetch/internal/extractor"
	"ytfetch/internal/filesafe"
	"ytfetch/internal/logger"
	"ytfetch/internal/paths"
	"ytfetch/internal/progress"
)

// JobOptions is the immutable input to a single job, per spec.md §3's
// JobOptions. The HTTP Surface constructs one of these per POST
// /api/download after URL sanitization and template resolution.
type JobOptions struct {
	URL                    string
	VideoID                string
	JobID                  string
	OutputFolder           string
	Mode                   progress.Mode
	Quality                string
	Format                 string
	EstimatedBytes         int64
	ResolvedFilename       string // no extension; "" falls back to the extractor's own name
	Channel                string
	CreatePerChannelFolder bool
	DownloadSubtitles      bool
	SubtitleLanguage       string
}

// jobState is the Orchestrator's private runtime record — spec.md §3's
// ActiveDownload, minus the JobProgress fields (those live in
// internal/progress, not duplicated here).
type jobState struct {
	opts                  JobOptions
	effectiveOutputFolder string
	cancel                context.CancelFunc
	handle                *extractor.Handle // nil between pause and resume
}

// Orchestrator coordinates job lifecycles against a Progress Accountant
// and an Extractor Driver.
type Orchestrator struct {
	reg    *progress.Registry
	driver *extractor.Driver

	mu     sync.Mutex
	states map[string]*jobState
}

// New returns an Orchestrator backed by reg and driver.
func New(reg *progress.Registry, driver *extractor.Driver) *Orchestrator {
	return &Orchestrator{
		reg:    reg,
		driver: driver,
		states: make(map[string]*jobState),
	}
}

// Registry exposes the underlying Progress Accountant for read access
// (GET /api/download/progress/:jobId and /api/downloads/active). The
// HTTP Surface never mutates it directly — only the Orchestrator does.
func (o *Orchestrator) Registry() *progress.Registry {
	return o.reg
}

// Submit performs spec.md §4.5 steps 1-2 synchronously — compute the
// effective output folder, create it, and register the job — then
// launches steps 3-5 (spawn, supervise, finalize) in the background.
// The HTTP handler returns immediately after Submit returns.
func (o *Orchestrator) Submit(opts JobOptions) error {
	effectiveDir := opts.OutputFolder
	if opts.CreatePerChannelFolder && opts.Channel != "" {
		effectiveDir = filepath.Join(effectiveDir, filesafe.Sanitize(opts.Channel))
	}
	if err := os.MkdirAll(effectiveDir, 0o755); err != nil {
		return apperr.Wrap("Orchestrator.Submit", err)
	}

	o.reg.Register(opts.JobID, progress.Options{
		Mode:           opts.Mode,
		Format:         opts.Format,
		EstimatedBytes: opts.EstimatedBytes,
	})

	o.mu.Lock()
	o.states[opts.JobID] = &jobState{
		opts:                  opts,
		effectiveOutputFolder: effectiveDir,
	}
	o.mu.Unlock()

	logger.Log.Info().
		Str("traceID", opts.JobID).
		Str("phase", "enqueue").
		Str("url", opts.URL).
		Str("mode", string(opts.Mode)).
		Msg("job registered")

	go o.run(opts.JobID)
	return nil
}

// Pause kills the running subprocess and marks the job paused, leaving
// its progress counters untouched so Resume can continue from them.
func (o *Orchestrator) Pause(jobID string) error {
	st, ok := o.stateFor(jobID)
	if !ok {
		return apperr.New("Orchestrator.Pause", apperr.ErrNotFound)
	}
	if _, ok := o.reg.Status(jobID); !ok {
		return apperr.New("Orchestrator.Pause", apperr.ErrNotFound)
	}

	o.reg.PauseDownload(jobID)

	o.mu.Lock()
	handle, cancel := st.handle, st.cancel
	st.handle = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Kill()
	}

	logger.Log.Info().Str("traceID", jobID).Str("phase", "paused").Msg("job paused")
	return nil
}

// Resume re-invokes the run-path with the job's original options. The
// Accountant's Register call becomes the no-op-with-status-reset spec.md
// §4.4 describes, since the entry is still present from before the pause.
func (o *Orchestrator) Resume(jobID string) error {
	st, ok := o.stateFor(jobID)
	if !ok {
		return apperr.New("Orchestrator.Resume", apperr.ErrNotFound)
	}
	if _, ok := o.reg.Status(jobID); !ok {
		return apperr.New("Orchestrator.Resume", apperr.ErrNotFound)
	}

	o.reg.Register(jobID, progress.Options{
		Mode:           st.opts.Mode,
		Format:         st.opts.Format,
		EstimatedBytes: st.opts.EstimatedBytes,
	})

	logger.Log.Info().Str("traceID", jobID).Str("phase", "resume").Msg("job resumed")
	go o.run(jobID)
	return nil
}

// Cancel kills the running subprocess (if any) and removes the job
// from the Accountant. Idempotent: canceling an id already removed
// returns ErrNotFound, matching spec.md §5's cancellation semantics.
func (o *Orchestrator) Cancel(jobID string) error {
	st, ok := o.stateFor(jobID)
	if !ok {
		return apperr.New("Orchestrator.Cancel", apperr.ErrNotFound)
	}
	if _, ok := o.reg.Status(jobID); !ok {
		return apperr.New("Orchestrator.Cancel", apperr.ErrNotFound)
	}

	o.reg.CancelDownload(jobID)

	o.mu.Lock()
	handle, cancel := st.handle, st.cancel
	delete(o.states, jobID)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Kill()
	}

	logger.Log.Info().Str("traceID", jobID).Str("phase", "cancelled").Msg("job cancelled")
	return nil
}

func (o *Orchestrator) stateFor(jobID string) (*jobState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[jobID]
	return st, ok
}

// run performs spec.md §4.5 steps 3-5: spawn the extractor, wait for
// it to exit, then — unless the job was paused or canceled in the
// meantime — finalize the artifact or record a failure. It never
// panics or returns an error to its caller; every outcome is recorded
// into the Accountant, per spec.md §7's propagation policy.
func (o *Orchestrator) run(jobID string) {
	st, ok := o.stateFor(jobID)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	st.cancel = cancel
	opts := st.opts
	effectiveDir := st.effectiveOutputFolder
	o.mu.Unlock()

	cookiesPath := ""
	if p, ok := paths.CredentialsPath(); ok {
		cookiesPath = p
	}

	extOpts := extractor.Options{
		JobID:             jobID,
		URL:               opts.URL,
		Mode:              opts.Mode,
		Quality:           opts.Quality,
		Format:            opts.Format,
		OutputDir:         effectiveDir,
		DownloadSubtitles: opts.DownloadSubtitles,
		SubtitleLanguage:  opts.SubtitleLanguage,
		CookiesPath:       cookiesPath,
	}

	handle, err := o.driver.Start(ctx, o.reg, extOpts)
	if err != nil {
		logger.Log.Error().Str("traceID", jobID).Err(err).Msg("failed to start extractor")
		o.reg.FailDownload(jobID, err.Error())
		return
	}

	o.mu.Lock()
	st.handle = handle
	o.mu.Unlock()

	waitErr := handle.Wait()

	o.mu.Lock()
	st.handle = nil
	o.mu.Unlock()

	// First, re-read status: a pause or cancel delivered during the
	// subprocess's final moments must win even if the kill signal made
	// the process exit 0 (spec.md §5's boundary-behaviour rule).
	status, ok := o.reg.Status(jobID)
	if !ok || status == progress.StatusPaused || status == progress.StatusCanceled {
		return
	}

	if code := exitCodeOf(waitErr); code != 0 {
		// Re-check once more: the exit race above can still land between
		// the kill and the registry write in Pause/Cancel.
		status, ok = o.reg.Status(jobID)
		if !ok || status == progress.StatusPaused || status == progress.StatusCanceled {
			return
		}
		o.reg.FailDownload(jobID, fmt.Sprintf("Download interrupted (code %d)", code))
		return
	}

	o.finalize(jobID, opts, effectiveDir)
}

// exitCodeOf extracts a subprocess exit code from the error exec.Wait
// returns, treating a nil error as a clean exit and anything that
// isn't an *exec.ExitError as an unattributable failure.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// finalize implements spec.md §4.5 step 4's success path: locate the
// temp artifact, resolve its final name under collision protection,
// rename it into place, and record the result.
func (o *Orchestrator) finalize(jobID string, opts JobOptions, dir string) {
	artifact, err := findArtifact(dir, jobID)
	if err != nil {
		o.reg.FailDownload(jobID, err.Error())
		return
	}
	if artifact == "" {
		o.reg.FailDownload(jobID, "No complete file found")
		return
	}

	src := filepath.Join(dir, artifact)
	ext := filepath.Ext(artifact)

	base := opts.ResolvedFilename
	if base == "" {
		base = filesafe.Sanitize(strings.TrimSuffix(artifact, ext))
	}

	// Reserve a collision-free target atomically (filesafe.ReserveUnique),
	// then release the placeholder immediately before the rename. This
	// narrows, but per DESIGN NOTES §9 does not eliminate, the
	// exists-then-rename race a plain uniqueName check would have.
	placeholder, target, err := filesafe.ReserveUnique(filepath.Join(dir, base+ext))
	if err != nil {
		o.reg.FailDownload(jobID, err.Error())
		return
	}
	placeholder.Close()
	os.Remove(target)

	if err := os.Rename(src, target); err != nil {
		o.reg.FailDownload(jobID, err.Error())
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		o.reg.FailDownload(jobID, err.Error())
		return
	}

	result := progress.Result{
		FilePath: target,
		FileName: filepath.Base(target),
		FileSize: fmt.Sprintf("%.2f MB", float64(info.Size())/(1024*1024)),
	}
	o.reg.CompleteDownload(jobID, info.Size(), result)

	logger.Log.Info().
		Str("traceID", jobID).
		Str("phase", "completed").
		Str("file", result.FileName).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Msg("download completed")
}

// findArtifact looks for a non-.part file in dir whose name starts
// with "<jobId>.temp"; if none matches, it falls back to the most
// recently modified non-.part file in dir. Returns "" if dir has no
// eligible file at all.
func findArtifact(dir string, jobID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	prefix := jobID + ".temp"
	var prefixed, all []os.DirEntry
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		all = append(all, e)
		if strings.HasPrefix(e.Name(), prefix) {
			prefixed = append(prefixed, e)
		}
	}

	candidates := prefixed
	if len(candidates) == 0 {
		candidates = all
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return mostRecentlyModified(candidates).Name(), nil
}

func mostRecentlyModified(entries []os.DirEntry) os.DirEntry {
	best := entries[0]
	bestTime := modTime(best)
	for _, e := range entries[1:] {
		if t := modTime(e); t.After(bestTime) {
			best, bestTime = e, t
		}
	}
	return best
}

func modTime(e os.DirEntry) time.Time {
	info, err := e.Info()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

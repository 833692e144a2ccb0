// Package progress implements the Progress Accountant (spec.md §4.3): a
// passive, per-job bookkeeping service the Job Orchestrator drives. It
// holds no reference back to its caller, per DESIGN NOTES §9's inversion
// of the teacher's cyclic manager/youtube-client coupling — compare
// internal/downloader/manager.go's Job/Manager pair, where the manager
// reaches into youtube.Client and back. Here the dependency runs one way.
package progress

import (
	"math"
	"sync"
	"time"
)

// Mode mirrors the job's acquisition mode. Declared locally (rather than
// imported from internal/template) so this package stays a leaf with no
// dependency on the template grammar.
type Mode string

const (
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
)

// Status is the job's externally visible lifecycle state.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusConverting  Status = "converting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

// Stage is the phase of work the extractor subprocess is performing.
type Stage string

const (
	StageVideo    Stage = "video"
	StageAudio    Stage = "audio"
	StageMerging  Stage = "merging"
	StageComplete Stage = "complete"
)

// Result is the terminal artifact location, set once on completion.
type Result struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
	FileSize string `json:"fileSize"`
}

// JobProgress is the outward-facing snapshot returned to HTTP callers.
// Field names and JSON tags follow spec.md §3's JobProgress shape.
type JobProgress struct {
	TotalBytes      int64   `json:"totalBytes"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	Percentage      float64 `json:"percentage"`
	Speed           float64 `json:"speed"`
	ETA             float64 `json:"eta"`
	Status          Status  `json:"status"`
	Stage           Stage   `json:"stage"`

	VideoTotalBytes       int64 `json:"videoTotalBytes"`
	AudioTotalBytes       int64 `json:"audioTotalBytes"`
	VideoDownloadedBytes  int64 `json:"videoDownloadedBytes"`
	AudioDownloadedBytes  int64 `json:"audioDownloadedBytes"`

	Error  string  `json:"error,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// Options is the subset of JobOptions the Accountant needs to initialize
// a registration: acquisition mode, audio format (for projection), and
// the pre-flight size estimate.
type Options struct {
	Mode           Mode
	Format         string
	EstimatedBytes int64
}

// sampleWindow is the minimum interval between speed/ETA recomputations,
// per spec.md §4.3's 500ms lazy-sampling rule.
const sampleWindow = 500 * time.Millisecond

// projectionFactors convert the extractor's source-container byte count
// into an estimate of the post-transcode size (spec.md §4.3, §4.7).
var projectionFactors = map[string]float64{
	"mp3":  1.67,
	"m4a":  2.67,
	"wav":  12.85,
	"opus": 1.0,
}

// ProjectionFactor returns the audio-format projection factor for
// format, and whether one is defined. Exported so internal/sizeest can
// apply the same table to its own write-time projection (spec.md §4.7,
// §9's "apply it in exactly one place per consumer path").
func ProjectionFactor(format string) (float64, bool) {
	factor, ok := projectionFactors[format]
	return factor, ok
}

// entry is the Accountant's internal per-job record. It holds both the
// mutable JobProgress counters and the sampling state needed to derive
// speed/ETA lazily, mirroring spec.md §3's ActiveDownload (minus the
// subprocess handle, which belongs to the orchestrator, not here).
type entry struct {
	mode   Mode
	format string

	progress JobProgress

	isResuming             bool
	lastSampleTime         time.Time
	downloadedAtLastSample int64
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Registry is the process-wide, mutex-guarded job table. Per spec.md §5
// a single coarse-grained lock over the whole map is acceptable since
// every operation here only touches in-memory state and is bounded; the
// Accountant must never be called while holding a lock over subprocess
// I/O, and never itself performs any.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry
}

// NewRegistry returns an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Register creates a JobProgress for jobId, or — if an entry already
// exists — flips its status back to downloading and marks it resuming
// without touching any counter. This is the resume no-op path spec.md
// §4.4 describes: "the Progress Accountant's register becomes a
// no-op-with-status-reset." Returns true when an existing entry was
// reused.
func (r *Registry) Register(jobId string, opts Options) (resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.jobs[jobId]; ok {
		e.isResuming = true
		e.progress.Status = StatusDownloading
		return true
	}

	stage := StageAudio
	if opts.Mode == ModeVideo {
		stage = StageVideo
	}

	r.jobs[jobId] = &entry{
		mode:           opts.Mode,
		format:         opts.Format,
		lastSampleTime: time.Now(),
		progress: JobProgress{
			TotalBytes: opts.EstimatedBytes,
			Status:     StatusDownloading,
			Stage:      stage,
		},
	}
	return false
}

// SetStageTotalBytes writes into the current stage's total byte count.
func (r *Registry) SetStageTotalBytes(jobId string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	switch e.progress.Stage {
	case StageAudio:
		e.progress.AudioTotalBytes = n
	default:
		e.progress.VideoTotalBytes = n
	}
}

// SetStage transitions the job's stage. A video→audio transition
// finalizes videoDownloadedBytes to videoTotalBytes first, preserving
// the monotonicity guarantee in spec.md §5. A transition into merging
// forces percentage to 99.
func (r *Registry) SetStage(jobId string, s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	if e.progress.Stage == StageVideo && s == StageAudio {
		e.progress.VideoDownloadedBytes = e.progress.VideoTotalBytes
	}
	e.progress.Stage = s
	if s == StageMerging {
		e.progress.Percentage = 99
	}
}

// UpdateProgress writes stageDownloaded into the current stage's
// downloaded counter, then recomputes the aggregate downloadedBytes,
// totalBytes, and percentage. totalBytes becomes the sum of the stage
// totals once both are known, or earlier whenever that sum exceeds the
// current total (e.g. an audio-only job with no pre-flight estimate).
func (r *Registry) UpdateProgress(jobId string, stageDownloaded int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	p := &e.progress
	switch p.Stage {
	case StageAudio:
		p.AudioDownloadedBytes = stageDownloaded
	default:
		p.VideoDownloadedBytes = stageDownloaded
	}

	p.DownloadedBytes = p.VideoDownloadedBytes + p.AudioDownloadedBytes
	stageTotal := p.VideoTotalBytes + p.AudioTotalBytes
	if (p.VideoTotalBytes > 0 && p.AudioTotalBytes > 0) || stageTotal > p.TotalBytes {
		p.TotalBytes = stageTotal
	}
	if p.TotalBytes > 0 {
		p.Percentage = 100 * float64(p.DownloadedBytes) / float64(p.TotalBytes)
	}
}

// SetStatus sets the job's status unless it is already terminal —
// terminal states absorb further mutation, per spec.md §8's invariant.
func (r *Registry) SetStatus(jobId string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	if isTerminal(e.progress.Status) {
		return
	}
	e.progress.Status = s
}

// CompleteDownload marks a job completed. When finalBytes > 0 (the
// stat()'d size of the renamed artifact) it overwrites both totalBytes
// and downloadedBytes so the final percentage reflects ground truth
// rather than the extractor's own byte accounting.
func (r *Registry) CompleteDownload(jobId string, finalBytes int64, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	if isTerminal(e.progress.Status) {
		return
	}
	p := &e.progress
	p.Status = StatusCompleted
	p.Percentage = 100
	p.Result = &result
	if finalBytes > 0 {
		p.TotalBytes = finalBytes
		p.DownloadedBytes = finalBytes
	}
}

// FailDownload marks a job failed with msg, unless it is already
// terminal.
func (r *Registry) FailDownload(jobId string, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	if isTerminal(e.progress.Status) {
		return
	}
	e.progress.Status = StatusFailed
	e.progress.Error = msg
}

// PauseDownload marks a job paused. Counters are left untouched so a
// later Register (on resume) finds them intact.
func (r *Registry) PauseDownload(jobId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	if isTerminal(e.progress.Status) {
		return
	}
	e.progress.Status = StatusPaused
}

// CancelDownload marks a job canceled and removes it from the table —
// per spec.md §8, a subsequent Get must return "not found". Cancel is
// idempotent: canceling an absent or already-removed job is a no-op.
func (r *Registry) CancelDownload(jobId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return
	}
	e.progress.Status = StatusCanceled
	delete(r.jobs, jobId)
}

// Status returns the job's raw status, for the Orchestrator's
// post-exit paused/canceled re-check (spec.md §4.5 step 4).
func (r *Registry) Status(jobId string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return "", false
	}
	return e.progress.Status, true
}

// IsResuming reports and clears the resume guard that Register sets
// when it reuses an existing entry, mirroring spec.md §3's
// ActiveDownload.isResuming flag. The Orchestrator's run-path does not
// read it.
func (r *Registry) IsResuming(jobId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return false
	}
	was := e.isResuming
	e.isResuming = false
	return was
}

// Get returns a point-in-time snapshot of the job's progress, with
// lazy speed/ETA sampling and audio-format projection applied to the
// outgoing view only — the stored counters are never rewritten by a
// read, per spec.md §4.3's closing sentence.
func (r *Registry) Get(jobId string) (JobProgress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[jobId]
	if !ok {
		return JobProgress{}, false
	}
	r.sampleLocked(e)
	return project(e), true
}

// Snapshot returns every job currently in the registry, each with the
// same sampling and projection applied as Get. Backs GET
// /api/downloads/active.
func (r *Registry) Snapshot() map[string]JobProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]JobProgress, len(r.jobs))
	for id, e := range r.jobs {
		r.sampleLocked(e)
		out[id] = project(e)
	}
	return out
}

// sampleLocked recomputes speed and ETA if at least sampleWindow has
// elapsed since the last sample, per spec.md §4.3. Must be called with
// r.mu held.
func (r *Registry) sampleLocked(e *entry) {
	now := time.Now()
	elapsed := now.Sub(e.lastSampleTime)
	if elapsed < sampleWindow {
		return
	}

	downloaded := e.progress.DownloadedBytes
	delta := downloaded - e.downloadedAtLastSample
	speed := float64(delta) / elapsed.Seconds()
	if speed < 0 {
		speed = 0
	}
	e.progress.Speed = speed

	if speed > 0 && e.progress.TotalBytes > 0 {
		remaining := e.progress.TotalBytes - downloaded
		if remaining < 0 {
			remaining = 0
		}
		e.progress.ETA = float64(remaining) / speed
	} else {
		e.progress.ETA = 0
	}

	e.downloadedAtLastSample = downloaded
	e.lastSampleTime = now
}

// project copies e's progress and, in audio mode with a known format,
// scales totalBytes/audioTotalBytes by the format's projection factor
// and recomputes percentage from the scaled total. The stored entry is
// untouched.
func project(e *entry) JobProgress {
	p := e.progress
	if result := p.Result; result != nil {
		r := *result
		p.Result = &r
	}

	if e.mode != ModeAudio || e.format == "" {
		return p
	}
	// Once completed, totalBytes already holds the real on-disk size of
	// the transcoded artifact (CompleteDownload's finalBytes) — projecting
	// it again would double-count the format factor.
	if p.Status == StatusCompleted {
		return p
	}
	factor, ok := projectionFactors[e.format]
	if !ok || factor == 1.0 {
		return p
	}

	p.AudioTotalBytes = int64(math.Round(float64(p.AudioTotalBytes) * factor))
	p.TotalBytes = int64(math.Round(float64(p.TotalBytes) * factor))
	if p.TotalBytes > 0 {
		p.Percentage = 100 * float64(p.DownloadedBytes) / float64(p.TotalBytes)
	}
	return p
}

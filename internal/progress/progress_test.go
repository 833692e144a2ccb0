package progress_test

import (
	"math"
	"testing"
	"time"

	"ytfetch/internal/progress"
)

func TestRegister_FreshJobStartsDownloadingAtDeclaredStage(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 1000})

	got, ok := r.Get("job-1")
	if !ok {
		t.Fatal("Get() after Register() = not found")
	}
	if got.Status != progress.StatusDownloading {
		t.Errorf("Status = %q, want %q", got.Status, progress.StatusDownloading)
	}
	if got.Stage != progress.StageVideo {
		t.Errorf("Stage = %q, want %q", got.Stage, progress.StageVideo)
	}
	if got.TotalBytes != 1000 {
		t.Errorf("TotalBytes = %d, want 1000", got.TotalBytes)
	}
}

func TestRegister_AudioModeStartsAtAudioStage(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeAudio})

	got, _ := r.Get("job-1")
	if got.Stage != progress.StageAudio {
		t.Errorf("Stage = %q, want %q", got.Stage, progress.StageAudio)
	}
}

func TestRegister_ResumePreservesCounters(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 1000})
	r.SetStageTotalBytes("job-1", 1000)
	r.UpdateProgress("job-1", 400)
	r.PauseDownload("job-1")

	resumed := r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 1000})
	if !resumed {
		t.Fatal("Register() on existing job should report resumed=true")
	}

	got, _ := r.Get("job-1")
	if got.Status != progress.StatusDownloading {
		t.Errorf("Status after resume = %q, want %q", got.Status, progress.StatusDownloading)
	}
	if got.DownloadedBytes != 400 {
		t.Errorf("DownloadedBytes after resume = %d, want 400 (preserved)", got.DownloadedBytes)
	}
}

func TestIsResuming_SetByRegisterAndClearedOnRead(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	if r.IsResuming("job-1") {
		t.Fatal("fresh registration should not be resuming")
	}

	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	if !r.IsResuming("job-1") {
		t.Fatal("second Register() on same id should mark resuming")
	}
	if r.IsResuming("job-1") {
		t.Fatal("IsResuming() should clear the guard after reading it once")
	}
}

func TestSetStage_VideoToAudioFinalizesVideoDownloaded(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.SetStageTotalBytes("job-1", 10*1024*1024)
	r.UpdateProgress("job-1", 6*1024*1024)

	r.SetStage("job-1", progress.StageAudio)

	got, _ := r.Get("job-1")
	if got.VideoDownloadedBytes != 10*1024*1024 {
		t.Errorf("VideoDownloadedBytes = %d, want finalized to total 10MiB", got.VideoDownloadedBytes)
	}
	if got.Stage != progress.StageAudio {
		t.Errorf("Stage = %q, want %q", got.Stage, progress.StageAudio)
	}
}

func TestSetStage_MergingForcesPercentage99(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.SetStage("job-1", progress.StageMerging)

	got, _ := r.Get("job-1")
	if got.Percentage != 99 {
		t.Errorf("Percentage = %v, want 99", got.Percentage)
	}
}

func TestUpdateProgress_VideoAudioMergeScenario(t *testing.T) {
	const MiB = 1024 * 1024
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, Format: "mp4"})

	r.SetStageTotalBytes("job-1", 10*MiB)
	r.UpdateProgress("job-1", 10*MiB)

	r.SetStage("job-1", progress.StageAudio)
	r.SetStageTotalBytes("job-1", 1*MiB)
	r.UpdateProgress("job-1", 1*MiB)

	got, _ := r.Get("job-1")
	if got.VideoDownloadedBytes != 10*MiB {
		t.Errorf("VideoDownloadedBytes = %d, want %d", got.VideoDownloadedBytes, 10*MiB)
	}
	if got.AudioDownloadedBytes != 1*MiB {
		t.Errorf("AudioDownloadedBytes = %d, want %d", got.AudioDownloadedBytes, 1*MiB)
	}
	if got.TotalBytes != 11*MiB {
		t.Errorf("TotalBytes = %d, want %d", got.TotalBytes, 11*MiB)
	}
	if got.DownloadedBytes != 11*MiB {
		t.Errorf("DownloadedBytes = %d, want %d", got.DownloadedBytes, 11*MiB)
	}

	r.SetStage("job-1", progress.StageMerging)
	r.CompleteDownload("job-1", 0, progress.Result{FileName: "out.mp4"})

	final, _ := r.Get("job-1")
	if final.Status != progress.StatusCompleted {
		t.Errorf("Status = %q, want %q", final.Status, progress.StatusCompleted)
	}
	if final.Percentage != 100 {
		t.Errorf("Percentage = %v, want 100", final.Percentage)
	}
}

func TestSetStatus_TerminalStatesAbsorbFurtherMutation(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.FailDownload("job-1", "boom")

	r.SetStatus("job-1", progress.StatusDownloading)

	got, _ := r.Get("job-1")
	if got.Status != progress.StatusFailed {
		t.Errorf("Status = %q, want terminal %q to be preserved", got.Status, progress.StatusFailed)
	}
}

func TestCompleteDownload_OverwritesBytesWithFinalSize(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 500})

	r.CompleteDownload("job-1", 12345, progress.Result{FilePath: "/out/a.mp4", FileName: "a.mp4", FileSize: "1.00 MB"})

	got, _ := r.Get("job-1")
	if got.TotalBytes != 12345 || got.DownloadedBytes != 12345 {
		t.Errorf("bytes = (%d, %d), want both 12345", got.TotalBytes, got.DownloadedBytes)
	}
	if got.Result == nil || got.Result.FileName != "a.mp4" {
		t.Errorf("Result = %+v, want FileName a.mp4", got.Result)
	}
}

func TestCancelDownload_RemovesEntryAndIsIdempotent(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})

	r.CancelDownload("job-1")
	if _, ok := r.Get("job-1"); ok {
		t.Fatal("Get() after CancelDownload() should report not found")
	}

	// Idempotent: a second cancel on an already-removed id is a no-op,
	// not a panic or error.
	r.CancelDownload("job-1")
}

func TestPauseThenCancel_RegistryEntryIsRemoved(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.PauseDownload("job-1")

	got, ok := r.Get("job-1")
	if !ok || got.Status != progress.StatusPaused {
		t.Fatalf("Status after pause = %+v, ok=%v", got, ok)
	}

	r.CancelDownload("job-1")
	if _, ok := r.Get("job-1"); ok {
		t.Fatal("Get() after pause-then-cancel should report not found")
	}
}

func TestGet_UnknownJobReportsNotFound(t *testing.T) {
	r := progress.NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("Get() on unknown job id should report not found")
	}
}

func TestGet_PercentageStaysZeroUntilSizeKnown(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.UpdateProgress("job-1", 500)

	got, _ := r.Get("job-1")
	if got.Percentage != 0 {
		t.Errorf("Percentage = %v, want 0 while totalBytes is unknown", got.Percentage)
	}
}

func TestGet_PercentageNeverExceedsBounds(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.SetStageTotalBytes("job-1", 100)
	r.UpdateProgress("job-1", 100)

	got, _ := r.Get("job-1")
	if got.Percentage < 0 || got.Percentage > 100 {
		t.Errorf("Percentage = %v, want within [0, 100]", got.Percentage)
	}
}

func TestGet_AudioProjection_WavFactor(t *testing.T) {
	const MiB = 1024 * 1024
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeAudio, Format: "wav"})
	r.SetStageTotalBytes("job-1", 6*MiB)
	r.UpdateProgress("job-1", 6*MiB)

	got, _ := r.Get("job-1")
	want := int64(math.Round(float64(6*MiB) * 12.85))
	if got.TotalBytes != want {
		t.Errorf("TotalBytes (projected) = %d, want %d", got.TotalBytes, want)
	}
}

func TestGet_AudioProjection_OpusFactorIsIdentity(t *testing.T) {
	const MiB = 1024 * 1024
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeAudio, Format: "opus"})
	r.SetStageTotalBytes("job-1", 4*MiB)
	r.UpdateProgress("job-1", 4*MiB)

	got, _ := r.Get("job-1")
	if got.TotalBytes != 4*MiB {
		t.Errorf("TotalBytes (opus, factor 1.0) = %d, want %d", got.TotalBytes, 4*MiB)
	}
}

func TestGet_AudioProjection_NotAppliedAfterCompletion(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeAudio, Format: "wav"})
	r.CompleteDownload("job-1", 999, progress.Result{FileName: "a.wav"})

	got, _ := r.Get("job-1")
	if got.TotalBytes != 999 {
		t.Errorf("TotalBytes after completion = %d, want raw final size 999 (no double projection)", got.TotalBytes)
	}
}

func TestGet_AudioProjection_NotAppliedToVideoMode(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, Format: "mp3"})
	r.SetStageTotalBytes("job-1", 1000)
	r.UpdateProgress("job-1", 1000)

	got, _ := r.Get("job-1")
	if got.TotalBytes != 1000 {
		t.Errorf("TotalBytes = %d, want unprojected 1000 for video mode", got.TotalBytes)
	}
}

func TestSnapshot_ReturnsAllJobsWithProjectionApplied(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 10})
	r.Register("job-2", progress.Options{Mode: progress.ModeAudio, Format: "m4a", EstimatedBytes: 10})

	all := r.Snapshot()
	if len(all) != 2 {
		t.Fatalf("Snapshot() returned %d jobs, want 2", len(all))
	}
	if _, ok := all["job-1"]; !ok {
		t.Error("Snapshot() missing job-1")
	}
	if _, ok := all["job-2"]; !ok {
		t.Error("Snapshot() missing job-2")
	}
	if got := all["job-1"].TotalBytes; got != 10 {
		t.Errorf("job-1 TotalBytes = %d, want unprojected 10 (video mode)", got)
	}
	if got, want := all["job-2"].TotalBytes, int64(math.Round(10*2.67)); got != want {
		t.Errorf("job-2 TotalBytes = %d, want m4a-projected %d", got, want)
	}
}

func TestSpeedSampling_ClampsToZeroAndComputesETA(t *testing.T) {
	const MiB = 1024 * 1024
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo, EstimatedBytes: 10 * MiB})
	r.SetStageTotalBytes("job-1", 10*MiB)
	r.UpdateProgress("job-1", 2*MiB)

	// Force the next Get to fall outside the 500ms sample window by
	// waiting past it, rather than reaching into unexported state.
	time.Sleep(510 * time.Millisecond)
	r.UpdateProgress("job-1", 4*MiB)

	got, _ := r.Get("job-1")
	if got.Speed < 0 {
		t.Errorf("Speed = %v, want >= 0", got.Speed)
	}
	if got.Speed > 0 && got.ETA < 0 {
		t.Errorf("ETA = %v, want >= 0", got.ETA)
	}
}

func TestStatus_ReflectsRawValueForOrchestratorRecheck(t *testing.T) {
	r := progress.NewRegistry()
	r.Register("job-1", progress.Options{Mode: progress.ModeVideo})
	r.PauseDownload("job-1")

	s, ok := r.Status("job-1")
	if !ok || s != progress.StatusPaused {
		t.Errorf("Status() = (%q, %v), want (%q, true)", s, ok, progress.StatusPaused)
	}

	if _, ok := r.Status("missing"); ok {
		t.Error("Status() on unknown job should report not found")
	}
}

//go:build !windows

package orchestrator_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytfetch/internal/extractor"
	"ytfetch/internal/orchestrator"
	"ytfetch/internal/progress"
)

// fastFakeExtractor writes a shell script standing in for yt-dlp: it
// parses its own "-o <template>" flag, emits a couple of progress
// lines, creates the output file, and exits 0 immediately. Mirrors
// scenario 1 in spec.md §8.
func fastFakeExtractor(t *testing.T, ext string) string {
	t.Helper()
	script := `#!/bin/sh
outtpl=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then
    outtpl="$arg"
  fi
  prev="$arg"
done
outpath=$(echo "$outtpl" | sed "s/%(ext)s/` + ext + `/")
echo "[download] Destination: $outpath"
echo "[download] 100% of 1.00MiB"
touch "$outpath"
echo "[ExtractAudio] done"
exit 0
`
	return writeScript(t, script)
}

// slowFakeExtractor sleeps between its first progress line and writing
// its output file, giving a test room to Pause mid-flight.
func slowFakeExtractor(t *testing.T, ext string, sleepSeconds int) string {
	t.Helper()
	script := `#!/bin/sh
outtpl=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-o" ]; then
    outtpl="$arg"
  fi
  prev="$arg"
done
outpath=$(echo "$outtpl" | sed "s/%(ext)s/` + ext + `/")
echo "[download] Destination: $outpath"
echo "[download] 40% of 10.00MiB"
sleep ` + itoa(sleepSeconds) + `
echo "[download] 100% of 10.00MiB"
touch "$outpath"
exit 0
`
	return writeScript(t, script)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-extractor.sh")
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write fake extractor: %v", err)
	}
	return path
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestOrchestrator_CompletesAndRenamesArtifact(t *testing.T) {
	t.Setenv("EXTRACTOR_BIN", fastFakeExtractor(t, "mp3"))

	reg := progress.NewRegistry()
	o := orchestrator.New(reg, extractor.NewDriver())

	outDir := t.TempDir()
	jobID := "J1"
	if err := o.Submit(orchestrator.JobOptions{
		JobID:            jobID,
		URL:              "https://example.com/video",
		OutputFolder:     outDir,
		Mode:             progress.ModeAudio,
		Format:           "mp3",
		ResolvedFilename: "Hello",
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ok := pollUntil(t, 5*time.Second, func() bool {
		p, found := reg.Get(jobID)
		return found && p.Status == progress.StatusCompleted
	})
	if !ok {
		p, _ := reg.Get(jobID)
		t.Fatalf("job never completed, last status = %+v", p)
	}

	finalPath := filepath.Join(outDir, "Hello.mp3")
	if _, err := os.Stat(finalPath); err != nil {
		t.Errorf("expected %q to exist: %v", finalPath, err)
	}

	p, _ := reg.Get(jobID)
	if p.Percentage != 100 {
		t.Errorf("Percentage = %v, want 100", p.Percentage)
	}
	if p.Result == nil || p.Result.FileName != "Hello.mp3" {
		t.Errorf("Result = %+v, want FileName Hello.mp3", p.Result)
	}
}

func TestOrchestrator_PlaylistCollision_SecondJobGetsSuffixedName(t *testing.T) {
	t.Setenv("EXTRACTOR_BIN", fastFakeExtractor(t, "mp3"))

	reg := progress.NewRegistry()
	o := orchestrator.New(reg, extractor.NewDriver())
	outDir := t.TempDir()

	for i, jobID := range []string{"J1", "J2"} {
		if err := o.Submit(orchestrator.JobOptions{
			JobID:            jobID,
			URL:              "https://example.com/video",
			OutputFolder:     outDir,
			Mode:             progress.ModeAudio,
			Format:           "mp3",
			ResolvedFilename: "01 - Track",
		}); err != nil {
			t.Fatalf("Submit() job %d error = %v", i, err)
		}
		ok := pollUntil(t, 5*time.Second, func() bool {
			p, found := reg.Get(jobID)
			return found && p.Status == progress.StatusCompleted
		})
		if !ok {
			t.Fatalf("job %d never completed", i)
		}
	}

	if _, err := os.Stat(filepath.Join(outDir, "01 - Track.mp3")); err != nil {
		t.Errorf("first job's file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "01 - Track (2).mp3")); err != nil {
		t.Errorf("second job should collide-resolve to '01 - Track (2).mp3': %v", err)
	}
}

func TestOrchestrator_PauseThenResumeCompletes(t *testing.T) {
	t.Setenv("EXTRACTOR_BIN", slowFakeExtractor(t, "mp4", 2))

	reg := progress.NewRegistry()
	o := orchestrator.New(reg, extractor.NewDriver())
	outDir := t.TempDir()
	jobID := "J1"

	if err := o.Submit(orchestrator.JobOptions{
		JobID:            jobID,
		URL:              "https://example.com/video",
		OutputFolder:     outDir,
		Mode:             progress.ModeVideo,
		Quality:          "1080p",
		ResolvedFilename: "Clip",
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ok := pollUntil(t, 2*time.Second, func() bool {
		p, found := reg.Get(jobID)
		return found && p.DownloadedBytes > 0
	})
	if !ok {
		t.Fatal("job never reported initial progress")
	}

	if err := o.Pause(jobID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	p, found := reg.Get(jobID)
	if !found || p.Status != progress.StatusPaused {
		t.Fatalf("status after Pause = %+v, found=%v", p, found)
	}
	downloadedAtPause := p.DownloadedBytes

	// The subprocess was killed mid-sleep, before it ever wrote the
	// output file — finalize must not have run.
	time.Sleep(300 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(outDir, "Clip.mp4")); err == nil {
		t.Error("artifact should not exist yet; job was paused before completion")
	}

	if err := o.Resume(jobID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	p, found = reg.Get(jobID)
	if !found || p.Status != progress.StatusDownloading {
		t.Fatalf("status after Resume = %+v, found=%v", p, found)
	}
	if p.DownloadedBytes != downloadedAtPause {
		t.Errorf("DownloadedBytes after Resume = %d, want preserved %d", p.DownloadedBytes, downloadedAtPause)
	}

	ok = pollUntil(t, 5*time.Second, func() bool {
		p, found := reg.Get(jobID)
		return found && p.Status == progress.StatusCompleted
	})
	if !ok {
		t.Fatal("job never completed after resume")
	}
	if _, err := os.Stat(filepath.Join(outDir, "Clip.mp4")); err != nil {
		t.Errorf("expected artifact after resume: %v", err)
	}
}

func TestOrchestrator_Cancel_SubsequentGetReturnsNotFound(t *testing.T) {
	t.Setenv("EXTRACTOR_BIN", slowFakeExtractor(t, "mp4", 5))

	reg := progress.NewRegistry()
	o := orchestrator.New(reg, extractor.NewDriver())
	outDir := t.TempDir()
	jobID := "J1"

	if err := o.Submit(orchestrator.JobOptions{
		JobID:        jobID,
		URL:          "https://example.com/video",
		OutputFolder: outDir,
		Mode:         progress.ModeVideo,
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	pollUntil(t, 2*time.Second, func() bool {
		p, found := reg.Get(jobID)
		return found && p.DownloadedBytes > 0
	})

	if err := o.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, found := reg.Get(jobID); found {
		t.Error("Get() after Cancel() should report not found")
	}

	if err := o.Cancel(jobID); err == nil {
		t.Error("second Cancel() on an already-removed job should error")
	}
}

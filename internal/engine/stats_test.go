package engine

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLineProgress(t *testing.T) {
	var buf bytes.Buffer
	p := &lineProgress{w: &buf, total: 7, every: 3}
	for i := 0; i < 7; i++ {
		p.Add(1)
	}
	p.Finish()

	want := "[>] Кадр 3/7\n[>] Кадр 6/7\n[>] Кадр 7/7\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestNewProgressDisabled(t *testing.T) {
	if _, ok := newProgress(10, 0).(nopProgress); !ok {
		t.Error("every=0 must disable progress output")
	}
}

func TestWriteReport(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	res := &RenderResult{
		Frames:    50,
		Encoder:   "libx264",
		Total:     2 * time.Second,
		Rendering: 1500 * time.Millisecond,
		Encoding:  400 * time.Millisecond,
	}

	var buf bytes.Buffer
	writeReport(&buf, "test-build", "/runs/x/motion/test_song.pkl", res)

	out := buf.String()
	t.Logf("Report:\n%s", out)
	for _, want := range []string{"PERFORMANCE REPORT", "Build: test-build", "Frames: 50 (libx264)", "Effective FPS: 25.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report is missing %q", want)
		}
	}

	data, err := os.ReadFile(benchmarkLog)
	if err != nil {
		t.Fatalf("benchmark log not written: %v", err)
	}
	if !strings.Contains(string(data), "Input: test_song.pkl | Frames: 50") {
		t.Errorf("Unexpected log entry %q", data)
	}
}

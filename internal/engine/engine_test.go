package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/dance2video/internal/analyzer"
	"github.com/ivlev/dance2video/internal/body"
	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/pose"
	"github.com/ivlev/dance2video/internal/renderer"
	"github.com/ivlev/dance2video/internal/scene"
	"github.com/ivlev/dance2video/internal/stage"
	"github.com/ivlev/dance2video/internal/video"
	"github.com/ivlev/dance2video/internal/workspace"
)

// memorySink keeps copies of every frame.
type memorySink struct {
	params     config.StreamParams
	path       string
	frames     [][]byte
	sizes      []image.Point
	closeCalls int
	finalized  int
	once       sync.Once
}

func (s *memorySink) WriteFrame(img *image.RGBA) error {
	s.sizes = append(s.sizes, img.Bounds().Size())
	s.frames = append(s.frames, append([]byte(nil), img.Pix...))
	return nil
}

func (s *memorySink) Frames() int { return len(s.frames) }

func (s *memorySink) Close() error {
	s.closeCalls++
	s.once.Do(func() { s.finalized++ })
	return nil
}

// countingRasterizer records the scene mesh count seen at each render.
type countingRasterizer struct {
	*renderer.Rasterizer
	meshCounts []int
	deleted    int
	failAt     int
}

func (r *countingRasterizer) Render(s *scene.Scene) (*image.RGBA, error) {
	if r.failAt > 0 && len(r.meshCounts) == r.failAt {
		return nil, errors.New("gpu on fire")
	}
	r.meshCounts = append(r.meshCounts, s.MeshCount())
	return r.Rasterizer.Render(s)
}

func (r *countingRasterizer) Delete() {
	r.deleted++
	r.Rasterizer.Delete()
}

type harness struct {
	cfg  *config.Config
	r    *FrameRenderer
	sink *memorySink
	ras  *countingRasterizer
	open int
	// failAt makes the rasterizer fail on that frame when > 0.
	failAt int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Root = filepath.Join(t.TempDir(), "runs")
	cfg.Workspace.OutputDir = filepath.Join(t.TempDir(), "outputs")
	cfg.Video.Encoder = "libx264"
	cfg.Render.ProgressEvery = 0

	h := &harness{cfg: cfg, sink: &memorySink{}}
	h.r = NewFrameRenderer(cfg)
	h.r.NewRasterizer = func(w, ht int) (Rasterizer, error) {
		base, err := renderer.NewRasterizer(w, ht, nil)
		if err != nil {
			return nil, err
		}
		h.ras = &countingRasterizer{Rasterizer: base, failAt: h.failAt}
		return h.ras, nil
	}
	h.r.OpenSink = func(_ context.Context, path string, p config.StreamParams) (video.FrameSink, error) {
		h.open++
		h.sink.path, h.sink.params = path, p
		return h.sink, nil
	}
	return h
}

// standing lifts the body so the default camera sees it.
var standing = []float64{0, 0, 1}

// dancePoses builds Z-up poses, the way the motion model writes them, with
// the left arm raised a little further on every frame.
func dancePoses(frames int) [][]float64 {
	poses := make([][]float64, frames)
	for i := range poses {
		poses[i] = make([]float64, pose.PoseWidth)
		poses[i][0] = math.Pi / 2
		poses[i][16*3+2] = 0.3 * float64(i) // left shoulder
	}
	return poses
}

// savePoses writes poses to dir/name; a nil transl omits translations.
func savePoses(t *testing.T, dir, name string, poses [][]float64, transl []float64) string {
	t.Helper()
	var trans [][]float64
	if transl != nil {
		trans = make([][]float64, len(poses))
		for i := range trans {
			trans[i] = append([]float64(nil), transl...)
		}
	}
	seq, err := pose.New(poses, trans)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := pose.Save(path, seq); err != nil {
		t.Fatal(err)
	}
	return path
}

// lowerCamera puts the camera at pelvis height so a body left at the
// origin, as with missing translations, fills the view.
func lowerCamera(cfg *config.Config) {
	cam := append([]float64(nil), cfg.Render.CameraPose...)
	cam[11] = 0
	cfg.Render.CameraPose = cam
}

func writePoses(t *testing.T, dir, name string, frames int) string {
	t.Helper()
	return savePoses(t, dir, name, dancePoses(frames), standing)
}

// measure decodes a captured frame and measures the body against the background.
func measure(t *testing.T, cfg *config.Config, pix []byte) analyzer.Framing {
	t.Helper()
	sc, err := scene.New(cfg.Render)
	if err != nil {
		t.Fatal(err)
	}
	w, ht := cfg.Render.Width, cfg.Render.Height
	img := &image.RGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, ht)}
	return analyzer.Analyze(img, sc.Background, 8)
}

func TestRenderTwoFrames(t *testing.T) {
	h := newHarness(t)
	lowerCamera(h.cfg)
	posePath := savePoses(t, t.TempDir(), "test_song.json", dancePoses(2), nil)

	res, err := h.r.Render(context.Background(), "run1", posePath)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	wantPath := filepath.Join(h.cfg.Workspace.OutputDir, "run1", "test_song.mp4")
	if res.VideoPath != wantPath || h.sink.path != wantPath {
		t.Errorf("Expected video %s, got result %s sink %s", wantPath, res.VideoPath, h.sink.path)
	}
	if res.Frames != 2 || h.sink.Frames() != 2 {
		t.Errorf("Expected 2 frames, got result %d sink %d", res.Frames, h.sink.Frames())
	}
	for i, sz := range h.sink.sizes {
		if sz != image.Pt(512, 512) {
			t.Errorf("Frame %d has size %v", i, sz)
		}
	}
	for i, pix := range h.sink.frames {
		if f := measure(t, h.cfg, pix); f.Empty {
			t.Errorf("Frame %d has no body pixels", i)
		}
	}
	if res.EmptyFrames != 0 {
		t.Errorf("Expected no empty frames, got %d", res.EmptyFrames)
	}
	if h.sink.params.FPS != 25 || h.sink.params.Width != 512 || h.sink.params.Height != 512 {
		t.Errorf("Unexpected stream params %+v", h.sink.params)
	}
	if h.sink.finalized != 1 {
		t.Errorf("Stream must be finalized exactly once, got %d", h.sink.finalized)
	}
	if h.ras.deleted != 1 {
		t.Errorf("Rasterizer must be deleted once, got %d", h.ras.deleted)
	}
	if res.HadTranslations {
		t.Error("Expected substituted translations")
	}
}

func TestRenderFramesInTimeOrder(t *testing.T) {
	const frames = 3
	dir := t.TempDir()
	poses := dancePoses(frames)

	h := newHarness(t)
	if _, err := h.r.Render(context.Background(), "all", savePoses(t, dir, "all.json", poses, standing)); err != nil {
		t.Fatal(err)
	}
	if h.sink.Frames() != frames {
		t.Fatalf("Expected %d frames, got %d", frames, h.sink.Frames())
	}

	for i := 0; i < frames; i++ {
		single := newHarness(t)
		path := savePoses(t, dir, fmt.Sprintf("frame%d.json", i), poses[i:i+1], standing)
		if _, err := single.r.Render(context.Background(), "one", path); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(h.sink.frames[i], single.sink.frames[0]) {
			t.Errorf("Frame %d does not match a render of pose %d alone", i, i)
		}
		if i > 0 && bytes.Equal(h.sink.frames[i], h.sink.frames[i-1]) {
			t.Errorf("Frames %d and %d are identical", i-1, i)
		}
	}
}

func TestRenderMeshCountNeverExceedsOne(t *testing.T) {
	h := newHarness(t)
	posePath := writePoses(t, t.TempDir(), "dance.yaml", 5)

	if _, err := h.r.Render(context.Background(), "run1", posePath); err != nil {
		t.Fatal(err)
	}
	if len(h.ras.meshCounts) != 5 {
		t.Fatalf("Expected 5 rasterizations, got %d", len(h.ras.meshCounts))
	}
	for i, n := range h.ras.meshCounts {
		if n != 1 {
			t.Errorf("Frame %d rendered with %d meshes", i, n)
		}
	}
}

func TestMissingTranslationsMatchZeroTranslations(t *testing.T) {
	dir := t.TempDir()
	poses := dancePoses(3)

	render := func(name string, transl []float64) [][]byte {
		h := newHarness(t)
		lowerCamera(h.cfg)
		if _, err := h.r.Render(context.Background(), "run1", savePoses(t, dir, name, poses, transl)); err != nil {
			t.Fatal(err)
		}
		for i, pix := range h.sink.frames {
			if f := measure(t, h.cfg, pix); f.Empty {
				t.Fatalf("%s: frame %d has no body pixels", name, i)
			}
		}
		return h.sink.frames
	}

	implicit := render("implicit.json", nil)
	explicit := render("explicit.json", []float64{0, 0, 0})
	if len(implicit) != len(explicit) {
		t.Fatalf("Frame counts differ: %d vs %d", len(implicit), len(explicit))
	}
	for i := range implicit {
		if !bytes.Equal(implicit[i], explicit[i]) {
			t.Errorf("Frame %d differs between missing and zero translations", i)
		}
	}
}

func TestRenderFailureReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.failAt = 1
	posePath := writePoses(t, t.TempDir(), "broken.json", 3)

	_, err := h.r.Render(context.Background(), "run1", posePath)
	if !errors.Is(err, stage.ErrRenderFailure) {
		t.Fatalf("Expected ErrRenderFailure, got %v", err)
	}
	if h.sink.finalized != 1 {
		t.Errorf("Stream must be finalized on failure, got %d", h.sink.finalized)
	}
	if h.ras.deleted != 1 {
		t.Errorf("Rasterizer must be deleted on failure, got %d", h.ras.deleted)
	}
	if h.sink.Frames() != 1 {
		t.Errorf("Expected exactly the frames before the failure, got %d", h.sink.Frames())
	}
}

type brokenModel struct{ body.Model }

func (brokenModel) Forward(body.Params) (*body.Output, error) {
	return nil, errors.New("bad joint")
}

func TestRenderModelFailure(t *testing.T) {
	h := newHarness(t)
	h.r.Model = brokenModel{body.DefaultSkeleton()}

	_, err := h.r.Render(context.Background(), "run1", writePoses(t, t.TempDir(), "m.json", 1))
	if !errors.Is(err, stage.ErrRenderFailure) || !strings.Contains(err.Error(), "bad joint") {
		t.Errorf("Expected render failure carrying the cause, got %v", err)
	}
}

func TestRenderBadPoseFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "empty.json")
	os.WriteFile(path, []byte(`{"poses": []}`), 0644)

	_, err := h.r.Render(context.Background(), "run1", path)
	if !errors.Is(err, stage.ErrRenderFailure) || !errors.Is(err, pose.ErrEmptySequence) {
		t.Errorf("Expected render failure for empty sequence, got %v", err)
	}
	if h.open != 0 {
		t.Error("Stream must not be opened for an unreadable pose file")
	}
}

// fakeDownloader writes a placeholder wav into the audio dir.
type fakeDownloader struct{ calls int }

func (d *fakeDownloader) Download(_ context.Context, _ string, dir string) (stage.AudioArtifact, error) {
	d.calls++
	if err := workspace.EnsureDir(dir); err != nil {
		return stage.AudioArtifact{}, err
	}
	path := filepath.Join(dir, "song.wav")
	return stage.AudioArtifact{Path: path}, os.WriteFile(path, []byte("RIFF"), 0644)
}

type fakeInference struct {
	t   *testing.T
	err error
}

func (f *fakeInference) Infer(_ context.Context, _ string, motionDir string) (string, error) {
	if err := workspace.EnsureDir(motionDir); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return writePoses(f.t, motionDir, "test_song.json", 2), nil
}

func newPipeline(h *harness, inf MotionGenerator) (*Pipeline, *fakeDownloader) {
	dl := &fakeDownloader{}
	return &Pipeline{
		Config:     h.cfg,
		Workspace:  workspace.NewManager(h.cfg.Workspace.Root),
		Downloader: dl,
		Inference:  inf,
		Renderer:   h.r,
	}, dl
}

func TestGenerate(t *testing.T) {
	h := newHarness(t)
	p, dl := newPipeline(h, &fakeInference{t: t})

	res, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if dl.calls != 1 {
		t.Errorf("Expected one download, got %d", dl.calls)
	}
	if want := filepath.Join(h.cfg.Workspace.OutputDir, res.RunID, "test_song.mp4"); res.VideoPath != want {
		t.Errorf("Expected %s, got %s", want, res.VideoPath)
	}
	if !strings.HasPrefix(res.MotionPath, filepath.Join(h.cfg.Workspace.Root, res.RunID, workspace.MotionDirName)) {
		t.Errorf("Motion artifact %s outside run dir", res.MotionPath)
	}

	m, err := workspace.ReadManifest(filepath.Join(h.cfg.Workspace.Root, res.RunID))
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != workspace.StatusSucceeded || m.VideoPath != res.VideoPath {
		t.Errorf("Unexpected manifest %+v", m)
	}
}

func TestGenerateRunsGetSeparateVideos(t *testing.T) {
	h := newHarness(t)
	p, _ := newPipeline(h, &fakeInference{t: t})

	first, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatal(err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("Two runs share id %s", first.RunID)
	}
	if first.VideoPath == second.VideoPath {
		t.Errorf("Two runs of one song write the same video %s", first.VideoPath)
	}
	for _, res := range []*Result{first, second} {
		if filepath.Base(res.VideoPath) != "test_song.mp4" {
			t.Errorf("Video keeps the pose file name, got %s", res.VideoPath)
		}
	}
}

func TestGenerateInferenceFailure(t *testing.T) {
	h := newHarness(t)

	script := filepath.Join(t.TempDir(), "infer.sh")
	os.WriteFile(script, []byte("#!/bin/sh\necho 'CUDA out of memory' >&2\nexit 1\n"), 0755)
	cfg := h.cfg.Inference
	cfg.Command = []string{"sh", script}

	p, _ := newPipeline(h, stage.NewInference(cfg, nil))

	_, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if !errors.Is(err, stage.ErrStageProcessFailure) {
		t.Fatalf("Expected ErrStageProcessFailure, got %v", err)
	}
	if h.open != 0 {
		t.Error("Render must not start after inference failure")
	}

	runs, err := workspace.List(h.cfg.Workspace.Root)
	if err != nil || len(runs) != 1 {
		t.Fatalf("Expected one run, got %d (%v)", len(runs), err)
	}
	motion, _ := os.ReadDir(filepath.Join(runs[0].Dir, workspace.MotionDirName))
	if len(motion) != 0 {
		t.Errorf("No motion artifact expected, found %d files", len(motion))
	}
	if _, err := os.Stat(h.cfg.Workspace.OutputDir); !os.IsNotExist(err) {
		t.Errorf("No video output expected")
	}
	if m := runs[0].Manifest; m == nil || m.Status != workspace.StatusFailed || m.Stage != stage.StageMotion {
		t.Errorf("Expected failed manifest at motion stage, got %+v", m)
	}
}

func TestGenerateStopsAtFirstError(t *testing.T) {
	h := newHarness(t)
	want := stage.Wrap(stage.ErrArtifactNotFound, stage.StageMotion, fmt.Errorf("nothing"))
	p, _ := newPipeline(h, &fakeInference{t: t, err: want})

	_, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if err != want {
		t.Errorf("Expected the stage error unchanged, got %v", err)
	}
}

type fakePublisher struct{ key string }

func (f *fakePublisher) Publish(_ context.Context, localPath, runID string) (string, error) {
	f.key = runID + "/" + filepath.Base(localPath)
	return "https://cdn.example.com/" + f.key, nil
}

func TestGeneratePublishes(t *testing.T) {
	h := newHarness(t)
	p, _ := newPipeline(h, &fakeInference{t: t})
	pub := &fakePublisher{}
	p.Publisher = pub

	res, err := p.Generate(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatal(err)
	}
	if res.PublicURL != "https://cdn.example.com/"+res.RunID+"/test_song.mp4" {
		t.Errorf("Unexpected public URL %s", res.PublicURL)
	}
}

func TestRenderExisting(t *testing.T) {
	h := newHarness(t)
	p, dl := newPipeline(h, &fakeInference{t: t})

	res, err := p.RenderExisting(context.Background(), writePoses(t, t.TempDir(), "upload.json", 4))
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID == "" {
		t.Fatal("RenderExisting must assign a run id")
	}
	if want := filepath.Join(h.cfg.Workspace.OutputDir, res.RunID, "upload.mp4"); res.VideoPath != want {
		t.Errorf("Expected %s, got %s", want, res.VideoPath)
	}
	if dl.calls != 0 {
		t.Error("RenderExisting must not download")
	}
	if res.Render.Frames != 4 {
		t.Errorf("Expected 4 frames, got %d", res.Render.Frames)
	}
}

func TestOutputPath(t *testing.T) {
	tests := map[string]string{
		"/x/motion/test_song.pkl": filepath.Join("outputs", "ab12", "test_song.mp4"),
		"clip.v2.json":            filepath.Join("outputs", "ab12", "clip.v2.mp4"),
		"noext":                   filepath.Join("outputs", "ab12", "noext.mp4"),
	}
	for in, want := range tests {
		if got := OutputPath("outputs", "ab12", in); got != want {
			t.Errorf("OutputPath(%q) = %s, want %s", in, got, want)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Render.Width != 512 || cfg.Render.Height != 512 {
		t.Errorf("Expected 512x512, got %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.FPS != 25 {
		t.Errorf("Expected 25 fps, got %d", cfg.Render.FPS)
	}
	if cfg.Downloader.Extension != ".wav" {
		t.Errorf("Expected .wav downloader extension, got %s", cfg.Downloader.Extension)
	}
	if cfg.Inference.Extension != ".pkl" {
		t.Errorf("Expected .pkl inference extension, got %s", cfg.Inference.Extension)
	}
	if cfg.Downloader.Timeout != 10*time.Minute {
		t.Errorf("Expected 10m downloader timeout, got %v", cfg.Downloader.Timeout)
	}

	wantPose := []float64{
		1, 0, 0, 0,
		0, 0, -1, -3.5,
		0, 1, 0, 2.5,
		0, 0, 0, 1,
	}
	if diff := cmp.Diff(wantPose, cfg.Render.CameraPose); diff != "" {
		t.Errorf("Camera pose mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dance2video.yaml")
	data := `
workspace:
  root: /srv/runs
render:
  fps: 30
inference:
  command: ["python3", "/opt/edge/test.py"]
  timeout: 90s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("width", 512, "")
	if err := flags.Parse([]string{"--width", "640"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workspace.Root != "/srv/runs" {
		t.Errorf("Expected workspace root from file, got %s", cfg.Workspace.Root)
	}
	if cfg.Render.FPS != 30 {
		t.Errorf("Expected fps 30 from file, got %d", cfg.Render.FPS)
	}
	if cfg.Render.Width != 640 {
		t.Errorf("Expected width 640 from flag, got %d", cfg.Render.Width)
	}
	if cfg.Render.Height != 512 {
		t.Errorf("Expected default height, got %d", cfg.Render.Height)
	}
	if diff := cmp.Diff([]string{"python3", "/opt/edge/test.py"}, cfg.Inference.Command); diff != "" {
		t.Errorf("Inference command mismatch (-want +got):\n%s", diff)
	}
	if cfg.Inference.Timeout != 90*time.Second {
		t.Errorf("Expected 90s timeout, got %v", cfg.Inference.Timeout)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("DANCE2VIDEO_SERVER_ADDR", ":9090")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr from env, got %s", cfg.Server.Addr)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero width", func(c *Config) { c.Render.Width = 0 }, "Width"},
		{"short camera pose", func(c *Config) { c.Render.CameraPose = []float64{1, 0, 0} }, "CameraPose"},
		{"empty inference command", func(c *Config) { c.Inference.Command = nil }, "Command"},
		{"extension without dot", func(c *Config) { c.Downloader.Extension = "wav" }, "Extension"},
		{"storage without bucket", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.AccessKeyID = "id"
			c.Storage.SecretAccessKey = "secret"
		}, "Bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to mention %s, got %v", tt.field, err)
			}
		})
	}
}

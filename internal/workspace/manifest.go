package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const manifestFileName = "run.yaml"

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Manifest - справочная запись о запуске для `runs list`. Для возобновления
// пайплайна не используется.
type Manifest struct {
	ID         string    `yaml:"id"`
	Source     string    `yaml:"source,omitempty"`
	Status     Status    `yaml:"status"`
	Stage      string    `yaml:"stage,omitempty"`
	AudioPath  string    `yaml:"audio,omitempty"`
	MotionPath string    `yaml:"motion,omitempty"`
	VideoPath  string    `yaml:"video,omitempty"`
	PublicURL  string    `yaml:"public_url,omitempty"`
	Error      string    `yaml:"error,omitempty"`
	CreatedAt  time.Time `yaml:"created_at"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

func ManifestPath(baseDir string) string {
	return filepath.Join(baseDir, manifestFileName)
}

// WriteManifest writes the manifest atomically into the run directory.
func WriteManifest(baseDir string, m *Manifest) error {
	if err := EnsureDir(baseDir); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	tmp := ManifestPath(baseDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ManifestPath(baseDir))
}

// ReadManifest reads the manifest of a run directory.
func ReadManifest(baseDir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(baseDir))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", baseDir, err)
	}

	return &m, nil
}

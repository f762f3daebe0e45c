package stage

import (
	"context"
	"fmt"

	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/system"
	"github.com/ivlev/dance2video/internal/workspace"
)

type Inference struct {
	cfg    config.StageConfig
	runner Runner
}

func NewInference(cfg config.StageConfig, runner Runner) *Inference {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Inference{cfg: cfg, runner: runner}
}

// Infer запускает модель генерации движений над audioDir и возвращает путь к
// сохраненной последовательности поз в motionDir.
func (m *Inference) Infer(ctx context.Context, audioDir, motionDir string) (string, error) {
	if err := workspace.EnsureDir(motionDir); err != nil {
		return "", err
	}

	vars := map[string]string{
		"audio_dir":  audioDir,
		"motion_dir": motionDir,
	}

	cmd := Command{
		Stage:   StageMotion,
		Path:    m.cfg.Command[0],
		Args:    append(append([]string{}, m.cfg.Command[1:]...), Expand(m.cfg.Args, vars)...),
		Dir:     m.cfg.WorkDir,
		Timeout: m.cfg.Timeout,
	}
	if err := m.runner.Run(ctx, cmd); err != nil {
		return "", err
	}

	path, err := system.FindArtifact(motionDir, m.cfg.OutputName, m.cfg.Extension)
	if err != nil {
		return "", fmt.Errorf("поиск движений в %s: %w", motionDir, err)
	}
	if path == "" {
		return "", &Error{
			Stage: StageMotion,
			Kind:  ErrArtifactNotFound,
			Err:   fmt.Errorf("в %s нет файлов *%s", motionDir, m.cfg.Extension),
		}
	}

	return path, nil
}

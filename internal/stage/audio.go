package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/system"
	"github.com/ivlev/dance2video/internal/workspace"
)

// AudioArtifact - аудиофайл, полученный загрузчиком.
type AudioArtifact struct {
	Path string
}

type Downloader struct {
	cfg    config.StageConfig
	runner Runner
}

func NewDownloader(cfg config.StageConfig, runner Runner) *Downloader {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Downloader{cfg: cfg, runner: runner}
}

// Download скачивает аудиодорожку sourceURL в outputDir и возвращает путь к
// файлу. Успешный код выхода без файла нужного расширения - ErrArtifactNotFound.
func (d *Downloader) Download(ctx context.Context, sourceURL, outputDir string) (AudioArtifact, error) {
	if err := workspace.EnsureDir(outputDir); err != nil {
		return AudioArtifact{}, err
	}

	vars := map[string]string{
		"url":        sourceURL,
		"output_dir": outputDir,
		"format":     d.format(),
		"template":   filepath.Join(outputDir, d.cfg.OutputTemplate),
	}

	cmd := Command{
		Stage:   StageAudio,
		Path:    d.cfg.Command[0],
		Args:    append(append([]string{}, d.cfg.Command[1:]...), Expand(d.cfg.Args, vars)...),
		Dir:     d.cfg.WorkDir,
		Timeout: d.cfg.Timeout,
	}
	if err := d.runner.Run(ctx, cmd); err != nil {
		return AudioArtifact{}, err
	}

	path, err := system.FindArtifact(outputDir, d.expectedName(), d.cfg.Extension)
	if err != nil {
		return AudioArtifact{}, fmt.Errorf("поиск аудио в %s: %w", outputDir, err)
	}
	if path == "" {
		return AudioArtifact{}, &Error{
			Stage: StageAudio,
			Kind:  ErrArtifactNotFound,
			Err:   fmt.Errorf("в %s нет файлов *%s", outputDir, d.cfg.Extension),
		}
	}

	return AudioArtifact{Path: path}, nil
}

func (d *Downloader) format() string {
	if d.cfg.Format != "" {
		return d.cfg.Format
	}
	return strings.TrimPrefix(d.cfg.Extension, ".")
}

// expectedName возвращает имя файла, если шаблон вывода детерминирован,
// т.е. кроме %(ext)s в нем нет полей, известных только загрузчику.
func (d *Downloader) expectedName() string {
	if d.cfg.OutputName != "" {
		return d.cfg.OutputName
	}
	name := strings.ReplaceAll(d.cfg.OutputTemplate, "%(ext)s", d.format())
	if name == "" || strings.Contains(name, "%(") {
		return ""
	}
	return name
}

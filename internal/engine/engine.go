package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/effects"
	"github.com/ivlev/dance2video/internal/stage"
	"github.com/ivlev/dance2video/internal/storage"
	"github.com/ivlev/dance2video/internal/system"
	"github.com/ivlev/dance2video/internal/video"
	"github.com/ivlev/dance2video/internal/workspace"
)

type AudioDownloader interface {
	Download(ctx context.Context, sourceURL, outputDir string) (stage.AudioArtifact, error)
}

type MotionGenerator interface {
	Infer(ctx context.Context, audioDir, motionDir string) (string, error)
}

// Result - итог запуска пайплайна.
type Result struct {
	RunID      string
	AudioPath  string
	MotionPath string
	VideoPath  string
	PublicURL  string
	Render     *RenderResult
}

// Pipeline последовательно выполняет загрузку аудио, генерацию движений и
// рендер. Первая ошибка прерывает запуск и возвращается без изменений.
type Pipeline struct {
	Config     *config.Config
	Workspace  *workspace.Manager
	Downloader AudioDownloader
	Inference  MotionGenerator
	Renderer   *FrameRenderer
	Publisher  storage.Publisher
}

func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	p := &Pipeline{
		Config:     cfg,
		Workspace:  workspace.NewManager(cfg.Workspace.Root),
		Downloader: stage.NewDownloader(cfg.Downloader, nil),
		Inference:  stage.NewInference(cfg.Inference, nil),
		Renderer:   NewFrameRenderer(cfg),
	}
	if cfg.Storage.Enabled {
		pub, err := storage.NewR2Client(cfg.Storage)
		if err != nil {
			return nil, err
		}
		p.Publisher = pub
	}
	return p, nil
}

// Generate: URL -> аудио -> позы -> видео в новом изолированном RunContext.
func (p *Pipeline) Generate(ctx context.Context, sourceURL string) (*Result, error) {
	rc, err := p.Workspace.Allocate()
	if err != nil {
		return nil, err
	}
	unlock, err := rc.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	fmt.Printf("[*] Запуск %s: %s\n", rc.ID, sourceURL)

	now := time.Now()
	m := &workspace.Manifest{
		ID:        rc.ID,
		Source:    sourceURL,
		Status:    workspace.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := &Result{RunID: rc.ID}

	err = p.generate(ctx, rc, sourceURL, m, res)
	if err != nil {
		m.Status = workspace.StatusFailed
		m.Error = err.Error()
	} else {
		m.Status = workspace.StatusSucceeded
		m.Stage = ""
	}
	p.saveManifest(rc, m)

	if err != nil {
		return nil, err
	}
	fmt.Printf("[+++] Успех! Видео сохранено: %s\n", res.VideoPath)
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, rc *workspace.RunContext, sourceURL string, m *workspace.Manifest, res *Result) error {
	advance := func(name string) {
		m.Stage = name
		p.saveManifest(rc, m)
	}

	advance(stage.StageAudio)
	audio, err := p.Downloader.Download(ctx, sourceURL, rc.AudioDir)
	if err != nil {
		return err
	}
	res.AudioPath, m.AudioPath = audio.Path, audio.Path
	if d, err := system.GetAudioDuration(ctx, p.Config.Video.FFprobe, audio.Path); err == nil {
		fmt.Printf("[*] Аудио: %s (%.2fs, ~%d кадров)\n", filepath.Base(audio.Path), d, int(d*float64(p.Config.Render.FPS)))
	}

	advance(stage.StageMotion)
	motion, err := p.Inference.Infer(ctx, rc.AudioDir, rc.MotionDir)
	if err != nil {
		return err
	}
	res.MotionPath, m.MotionPath = motion, motion

	advance(stage.StageRender)
	chain, err := effects.Build(p.Config.Effects, sourceURL)
	if err != nil {
		return stage.Wrap(stage.ErrRenderFailure, stage.StageRender, err)
	}
	rr, err := p.Renderer.WithEffects(chain).Render(ctx, rc.ID, motion)
	if err != nil {
		return err
	}
	res.Render = rr
	res.VideoPath, m.VideoPath = rr.VideoPath, rr.VideoPath

	if p.Config.Video.MuxAudio {
		if err := p.muxAudio(ctx, rr.VideoPath, audio.Path); err != nil {
			return stage.Wrap(stage.ErrRenderFailure, stage.StageRender, err)
		}
	}
	p.report(ctx, motion, rr)

	if p.Publisher != nil {
		advance(stage.StagePublish)
		url, err := p.Publisher.Publish(ctx, rr.VideoPath, rc.ID)
		if err != nil {
			return stage.Wrap(stage.ErrStageProcessFailure, stage.StagePublish, err)
		}
		res.PublicURL, m.PublicURL = url, url
		fmt.Printf("[*] Опубликовано: %s\n", url)
	}
	return nil
}

// RenderExisting рендерит готовый артефакт поз, минуя загрузку и инференс.
// Видео получает собственный идентификатор запуска, как и в Generate.
func (p *Pipeline) RenderExisting(ctx context.Context, posePath string) (*Result, error) {
	rc, err := p.Workspace.Allocate()
	if err != nil {
		return nil, err
	}
	fmt.Printf("[*] Рендер %s: %s\n", rc.ID, posePath)

	rr, err := p.Renderer.Render(ctx, rc.ID, posePath)
	if err != nil {
		return nil, err
	}
	p.report(ctx, posePath, rr)

	res := &Result{RunID: rc.ID, MotionPath: posePath, VideoPath: rr.VideoPath, Render: rr}
	fmt.Printf("[+++] Успех! Видео сохранено: %s\n", res.VideoPath)
	return res, nil
}

// muxAudio заменяет немое видео версией со звуком.
func (p *Pipeline) muxAudio(ctx context.Context, videoPath, audioPath string) error {
	tmp := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".audio.mp4"
	if err := video.MuxAudio(ctx, p.Config.Video.FFmpeg, videoPath, audioPath, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, videoPath)
}

func (p *Pipeline) report(ctx context.Context, input string, rr *RenderResult) {
	if !p.Config.Render.ShowStats {
		return
	}
	writeReport(os.Stdout, p.Config.BuildVersion, input, rr)

	info, err := video.Probe(ctx, p.Config.Video.FFprobe, rr.VideoPath)
	if err != nil {
		log.Printf("[!] Не удалось проверить видео: %v", err)
		return
	}
	fmt.Printf("[*] Видео: %dx%d @ %.2ffps, %d кадров\n", info.Width, info.Height, info.FPS, info.Frames)
	if info.Frames != rr.Frames {
		log.Printf("[!] В файле %d кадров, записано %d", info.Frames, rr.Frames)
	}
}

func (p *Pipeline) saveManifest(rc *workspace.RunContext, m *workspace.Manifest) {
	m.UpdatedAt = time.Now()
	if err := workspace.WriteManifest(rc.BaseDir, m); err != nil {
		log.Printf("[!] Не удалось записать манифест %s: %v", rc.ID, err)
	}
}

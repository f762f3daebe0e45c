package engine

import (
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivlev/dance2video/internal/analyzer"
	"github.com/ivlev/dance2video/internal/body"
	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/effects"
	"github.com/ivlev/dance2video/internal/pose"
	"github.com/ivlev/dance2video/internal/renderer"
	"github.com/ivlev/dance2video/internal/scene"
	"github.com/ivlev/dance2video/internal/stage"
	"github.com/ivlev/dance2video/internal/system"
	"github.com/ivlev/dance2video/internal/video"
	"github.com/ivlev/dance2video/internal/workspace"
)

// Rasterizer рисует сцену во внеэкранный буфер.
type Rasterizer interface {
	Render(s *scene.Scene) (*image.RGBA, error)
	Release(frame *image.RGBA)
	Delete()
}

type RasterizerFactory func(width, height int) (Rasterizer, error)

type SinkFactory func(ctx context.Context, path string, params config.StreamParams) (video.FrameSink, error)

// RenderResult - итог рендера последовательности поз.
type RenderResult struct {
	VideoPath       string
	Frames          int
	HadTranslations bool
	Encoder         string
	EmptyFrames     int
	ClippedFrames   int
	Total           time.Duration
	Rendering       time.Duration
	Encoding        time.Duration
}

// FrameRenderer превращает последовательность поз в видео кадр за кадром.
type FrameRenderer struct {
	Config        *config.Config
	Model         body.Model
	NewRasterizer RasterizerFactory
	OpenSink      SinkFactory
	Effects       effects.Chain
}

func NewFrameRenderer(cfg *config.Config) *FrameRenderer {
	return &FrameRenderer{
		Config: cfg,
		Model:  body.DefaultSkeleton(),
		NewRasterizer: func(w, h int) (Rasterizer, error) {
			return renderer.NewRasterizer(w, h, system.NewImagePool())
		},
		OpenSink: func(ctx context.Context, path string, p config.StreamParams) (video.FrameSink, error) {
			return video.OpenStream(ctx, cfg.Video.FFmpeg, path, p)
		},
	}
}

// WithEffects возвращает копию рендерера с другой цепочкой эффектов.
func (r *FrameRenderer) WithEffects(chain effects.Chain) *FrameRenderer {
	cp := *r
	cp.Effects = chain
	return &cp
}

// OutputPath - путь видео для артефакта поз: <outputs>/<runID>/<имя>.mp4.
// Каталог запуска не дает двум запускам одной песни писать в один файл.
func OutputPath(outputDir, runID, posePath string) string {
	base := filepath.Base(posePath)
	return filepath.Join(outputDir, runID, strings.TrimSuffix(base, filepath.Ext(base))+".mp4")
}

// Render читает последовательность поз и записывает видео в каталог запуска
// runID под outputs. Поток и буферы растеризатора освобождаются на любом пути выхода.
func (r *FrameRenderer) Render(ctx context.Context, runID, posePath string) (res *RenderResult, err error) {
	start := time.Now()
	fail := func(err error) error {
		return stage.Wrap(stage.ErrRenderFailure, stage.StageRender, err)
	}

	seq, err := pose.Load(posePath)
	if err != nil {
		return nil, fail(err)
	}
	total := seq.Len()
	if !seq.HadTranslations {
		log.Printf("[!] В %s нет смещений, используются нулевые", filepath.Base(posePath))
	}

	rc := r.Config.Render
	sc, err := scene.New(rc)
	if err != nil {
		return nil, fail(err)
	}

	ras, err := r.NewRasterizer(rc.Width, rc.Height)
	if err != nil {
		return nil, fail(err)
	}
	defer ras.Delete()

	if runID == "" {
		return nil, fail(fmt.Errorf("не задан идентификатор запуска"))
	}
	outPath := OutputPath(r.Config.Workspace.OutputDir, runID, posePath)
	if err := workspace.EnsureDir(filepath.Dir(outPath)); err != nil {
		return nil, fail(err)
	}

	encoder, quality := system.ResolveEncoder(r.Config.Video.FFmpeg, r.Config.Video.Encoder, r.Config.Video.Quality)
	sink, err := r.OpenSink(ctx, outPath, r.Config.StreamParams(encoder, quality))
	if err != nil {
		return nil, fail(err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			res, err = nil, fail(cerr)
		}
	}()

	fmt.Printf("[*] Рендер %d кадров %dx%d@%d (%s) -> %s\n", total, rc.Width, rc.Height, rc.FPS, encoder, outPath)

	faces := r.Model.Faces()
	framing := analyzer.NewMonitor(sc.Background)
	prog := newProgress(total, rc.ProgressEvery)
	var renderTime, encodeTime time.Duration

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fail(err)
		}

		global, bodyPose, transl := seq.Frame(i)
		t0 := time.Now()
		out, err := r.Model.Forward(body.Params{
			GlobalOrient: global,
			BodyPose:     bodyPose,
			Transl:       transl,
			Betas:        body.NeutralBetas(),
		})
		if err != nil {
			return nil, fail(fmt.Errorf("кадр %d: модель тела: %w", i, err))
		}

		if err := sc.SetActiveMesh(&scene.Mesh{Vertices: out.Vertices, Faces: faces, Color: sc.BodyColor}); err != nil {
			return nil, fail(fmt.Errorf("кадр %d: %w", i, err))
		}

		frame, err := ras.Render(sc)
		if err != nil {
			return nil, fail(fmt.Errorf("кадр %d: растеризация: %w", i, err))
		}
		framing.Observe(i, frame)
		r.Effects.Apply(frame, i, total)
		t1 := time.Now()

		err = sink.WriteFrame(frame)
		ras.Release(frame)
		if err != nil {
			return nil, fail(fmt.Errorf("кадр %d: %w", i, err))
		}

		renderTime += t1.Sub(t0)
		encodeTime += time.Since(t1)
		prog.Add(1)
	}
	sc.SetActiveMesh(nil)
	prog.Finish()
	if !framing.OK() {
		log.Printf("[!] Тело выходит за кадр (%s), первый кадр: %d. Проверьте render.camera_pose", framing, framing.FirstBad)
	}

	if err := sink.Close(); err != nil {
		return nil, fail(err)
	}

	return &RenderResult{
		VideoPath:       outPath,
		Frames:          sink.Frames(),
		HadTranslations: seq.HadTranslations,
		Encoder:         encoder,
		EmptyFrames:     framing.Empty,
		ClippedFrames:   framing.Clipped,
		Total:           time.Since(start),
		Rendering:       renderTime,
		Encoding:        encodeTime,
	}, nil
}

// Package server exposes the pipeline over HTTP: upload a pose artifact or
// submit a music URL, get back a link to the rendered video.
package server

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/engine"
	"github.com/ivlev/dance2video/internal/workspace"
)

// Pipeline is the part of engine.Pipeline the server drives.
type Pipeline interface {
	Generate(ctx context.Context, sourceURL string) (*engine.Result, error)
	RenderExisting(ctx context.Context, posePath string) (*engine.Result, error)
}

// poseExtensions are the artifact formats accepted by /upload.
var poseExtensions = map[string]bool{
	".pkl":    true,
	".pickle": true,
	".json":   true,
	".yaml":   true,
	".yml":    true,
}

type GenerateRequest struct {
	YoutubeURL string `json:"youtube_url" validate:"required,url"`
}

type VideoResponse struct {
	RunID     string `json:"run_id,omitempty"`
	VideoURL  string `json:"video_url"`
	PublicURL string `json:"public_url,omitempty"`
	Frames    int    `json:"frames,omitempty"`
}

type Server struct {
	cfg       *config.Config
	pipeline  Pipeline
	validator *validator.Validate
	runs      *semaphore.Weighted
	app       *fiber.App
}

func New(cfg *config.Config, p Pipeline) *Server {
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		validator: validator.New(),
		runs:      semaphore.NewWeighted(cfg.Server.MaxConcurrentRuns),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Post("/upload", s.upload)
	app.Post("/generate", s.generate)
	app.Static("/outputs", cfg.Workspace.OutputDir)

	s.app = app
	return s
}

func (s *Server) App() *fiber.App { return s.app }

// Listen blocks until the server stops.
func (s *Server) Listen() error {
	log.Printf("[*] HTTP сервер слушает %s", s.cfg.Server.Addr)
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout)
}

// acquire waits for a free pipeline slot, at most QueueTimeout.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.QueueTimeout)
	defer cancel()
	if err := s.runs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.runs.Release(1) }, nil
}

func (s *Server) busy(c *fiber.Ctx, err error) error {
	return errorJSON(c, fiber.StatusServiceUnavailable, ErrorDetail{
		Code:    CodeBusy,
		Message: fmt.Sprintf("all %d pipeline slots are busy: %v", s.cfg.Server.MaxConcurrentRuns, err),
	})
}

// upload handles POST /upload: a pose artifact rendered without inference.
func (s *Server) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return validationError(c, "file is required", nil)
	}
	name := filepath.Base(file.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !poseExtensions[ext] || name == ext {
		return validationError(c, "unsupported pose file", map[string]string{"filename": file.Filename})
	}

	// One directory per request: equal client filenames never collide.
	dir := filepath.Join(s.cfg.Workspace.UploadDir, uuid.NewString())
	if err := workspace.EnsureDir(dir); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if err := c.SaveFile(file, dst); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	log.Printf("[*] Загружен файл поз: %s (%d байт)", dst, file.Size)

	release, err := s.acquire(c.UserContext())
	if err != nil {
		return s.busy(c, err)
	}
	defer release()

	res, err := s.pipeline.RenderExisting(c.UserContext(), dst)
	if err != nil {
		log.Printf("[!] Рендер %s завершился ошибкой: %v", name, err)
		return pipelineError(c, err)
	}
	return c.JSON(s.response(res))
}

// generate handles POST /generate with youtube_url in the query or JSON body.
func (s *Server) generate(c *fiber.Ctx) error {
	req := GenerateRequest{YoutubeURL: c.Query("youtube_url")}
	if req.YoutubeURL == "" && len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return validationError(c, "invalid request body", nil)
		}
	}
	if err := s.validator.Struct(&req); err != nil {
		return validationError(c, "validation failed", formatValidationErrors(err))
	}

	release, err := s.acquire(c.UserContext())
	if err != nil {
		return s.busy(c, err)
	}
	defer release()

	start := time.Now()
	res, err := s.pipeline.Generate(c.UserContext(), req.YoutubeURL)
	if err != nil {
		log.Printf("[!] Запуск для %s завершился ошибкой: %v", req.YoutubeURL, err)
		return pipelineError(c, err)
	}
	log.Printf("[+++] %s готов за %s", res.RunID, time.Since(start).Round(time.Millisecond))
	return c.JSON(s.response(res))
}

// videoURL maps a video under the output dir to its /outputs route.
func (s *Server) videoURL(videoPath string) string {
	rel, err := filepath.Rel(s.cfg.Workspace.OutputDir, videoPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(videoPath)
	}
	return "/outputs/" + filepath.ToSlash(rel)
}

func (s *Server) response(res *engine.Result) VideoResponse {
	out := VideoResponse{
		RunID:     res.RunID,
		VideoURL:  s.videoURL(res.VideoPath),
		PublicURL: res.PublicURL,
	}
	if res.Render != nil {
		out.Frames = res.Render.Frames
	}
	return out
}

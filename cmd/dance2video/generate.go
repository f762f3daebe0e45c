package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivlev/dance2video/internal/config"
	"github.com/ivlev/dance2video/internal/engine"
	"github.com/ivlev/dance2video/internal/system"
)

// pipelineTools - внешние утилиты, без которых полный запуск невозможен.
func pipelineTools(cfg *config.Config) []string {
	return []string{cfg.Downloader.Command[0], cfg.Inference.Command[0], cfg.Video.FFmpeg}
}

func preflight(tools ...string) error {
	for _, tool := range tools {
		if err := system.CheckTool(tool); err != nil {
			return err
		}
	}
	return nil
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <url>",
		Short: "Полный запуск: загрузка аудио, генерация движений, рендер видео",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := preflight(pipelineTools(cfg)...); err != nil {
				return err
			}
			p, err := engine.NewPipeline(cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := p.Generate(runCtx, args[0])
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "render <pose-file>",
		Short: "Рендер готового файла поз (.pkl, .json, .yaml) без инференса",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := preflight(cfg.Video.FFmpeg); err != nil {
				return err
			}
			p, err := engine.NewPipeline(cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := p.RenderExisting(runCtx, args[0])
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, res *engine.Result) {
	out := cmd.OutOrStdout()
	if res.RunID != "" {
		fmt.Fprintf(out, "run:    %s\n", res.RunID)
	}
	if res.MotionPath != "" {
		fmt.Fprintf(out, "motion: %s\n", res.MotionPath)
	}
	fmt.Fprintf(out, "video:  %s\n", res.VideoPath)
	if res.Render != nil {
		fmt.Fprintf(out, "frames: %d (%s)\n", res.Render.Frames, res.Render.Encoder)
	}
	if res.PublicURL != "" {
		fmt.Fprintf(out, "url:    %s\n", res.PublicURL)
	}
}

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/dance2video/internal/engine"
	"github.com/ivlev/dance2video/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTP API: POST /upload, POST /generate, GET /outputs/*",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := preflight(pipelineTools(cfg)...); err != nil {
				log.Printf("[!] %v: /generate будет завершаться ошибкой", err)
			}
			p, err := engine.NewPipeline(cfg)
			if err != nil {
				return err
			}
			srv := server.New(cfg, p)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(srv.Listen)
			g.Go(func() error {
				<-gctx.Done()
				fmt.Println("[*] Остановка сервера...")
				return srv.Shutdown()
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", ":8000", "Адрес HTTP сервера")
	cmd.Flags().Int64("max-runs", 1, "Максимум одновременных запусков пайплайна")
	return cmd
}

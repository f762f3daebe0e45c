package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ivlev/dance2video/internal/config"
)

// commandContext лениво загружает конфигурацию для подкоманд.
type commandContext struct {
	configPath string
	cfg        *config.Config
}

func (c *commandContext) ensureConfig(flags *pflag.FlagSet) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath, flags)
	if err != nil {
		return nil, err
	}
	cfg.BuildVersion = BuildVersion
	c.cfg = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "dance2video",
		Short:         "Музыка -> танцующее 3D-тело -> видео",
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&ctx.configPath, "config", "c", "", "Путь к YAML-конфигу (по умолчанию ./dance2video.yaml)")
	pf.String("workspace", "edge/tmp", "Корень каталогов запусков")
	pf.String("output-dir", "outputs", "Каталог готовых видео")
	pf.String("upload-dir", "uploads", "Каталог загруженных файлов поз")
	pf.Int("width", 512, "Ширина")
	pf.Int("height", 512, "Высота")
	pf.Int("fps", 25, "FPS")
	pf.Bool("stats", false, "Показать отчет о производительности")
	pf.String("encoder", "auto", "Энкодер: auto, libx264, h264_videotoolbox, h264_nvenc, ...")
	pf.Int("quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	pf.Bool("mux-audio", false, "Добавить аудиодорожку в итоговое видео")
	pf.Bool("debug", false, "Подпись номера кадра")
	pf.Bool("watermark", false, "QR-код исходного URL в углу кадра")
	pf.Duration("dl-timeout", 0, "Таймаут загрузки аудио (0 - из конфига)")
	pf.Duration("inf-timeout", 0, "Таймаут инференса (0 - из конфига)")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newPoseCommand(ctx))

	return rootCmd
}

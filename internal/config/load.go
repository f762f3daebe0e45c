package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DANCE2VIDEO"

var defaults = map[string]any{
	"workspace.root":       "edge/tmp",
	"workspace.output_dir": "outputs",
	"workspace.upload_dir": "uploads",

	"downloader.command": []string{"yt-dlp"},
	"downloader.args": []string{
		"--extract-audio",
		"--audio-format", "{format}",
		"--audio-quality", "0",
		"--output", "{template}",
		"{url}",
	},
	"downloader.format":          "wav",
	"downloader.extension":       ".wav",
	"downloader.output_template": "%(id)s.%(ext)s",
	"downloader.timeout":         "10m",

	"inference.command": []string{"python", "edge/test.py"},
	"inference.args": []string{
		"--music_dir", "{audio_dir}",
		"--save_motions",
		"--motion_save_dir", "{motion_dir}",
	},
	"inference.extension": ".pkl",
	"inference.timeout":   "30m",

	"render.width":       512,
	"render.height":      512,
	"render.fps":         25,
	"render.camera_yfov": math.Pi / 3.0,
	"render.camera_pose": []float64{
		1.0, 0.0, 0.0, 0.0,
		0.0, 0.0, -1.0, -3.5,
		0.0, 1.0, 0.0, 2.5,
		0.0, 0.0, 0.0, 1.0,
	},
	"render.light_intensity": 2.5,
	"render.light_color":     []float64{1, 1, 1},
	"render.background":      []float64{0, 0, 0},
	"render.body_color":      []float64{0.8, 0.8, 0.8},
	"render.show_stats":      false,
	"render.progress_every":  25,

	"video.ffmpeg":    "ffmpeg",
	"video.ffprobe":   "ffprobe",
	"video.encoder":   "auto",
	"video.quality":   0,
	"video.mux_audio": false,

	"effects.debug":          false,
	"effects.watermark":      false,
	"effects.watermark_size": 96,

	"server.addr":                ":8000",
	"server.body_limit_mb":       100,
	"server.max_concurrent_runs": 1,
	"server.queue_timeout":       "5m",
	"server.shutdown_timeout":    "10s",

	"storage.enabled": false,
	"storage.prefix":  "videos/",
}

// flagKeys связывает имена флагов CLI с ключами конфигурации.
var flagKeys = map[string]string{
	"workspace":   "workspace.root",
	"output-dir":  "workspace.output_dir",
	"upload-dir":  "workspace.upload_dir",
	"width":       "render.width",
	"height":      "render.height",
	"fps":         "render.fps",
	"stats":       "render.show_stats",
	"encoder":     "video.encoder",
	"quality":     "video.quality",
	"mux-audio":   "video.mux_audio",
	"debug":       "effects.debug",
	"watermark":   "effects.watermark",
	"addr":        "server.addr",
	"max-runs":    "server.max_concurrent_runs",
	"dl-timeout":  "downloader.timeout",
	"inf-timeout": "inference.timeout",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load читает конфигурацию: значения по умолчанию, затем YAML-файл (если есть),
// переменные окружения DANCE2VIDEO_* и, наконец, явно заданные флаги.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dance2video")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	return decode(v)
}

// Default возвращает конфигурацию без файла и флагов.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

package config

import (
	"time"
)

type Config struct {
	Workspace  WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Downloader StageConfig     `mapstructure:"downloader" yaml:"downloader"`
	Inference  StageConfig     `mapstructure:"inference" yaml:"inference"`
	Render     RenderConfig    `mapstructure:"render" yaml:"render"`
	Video      VideoConfig     `mapstructure:"video" yaml:"video"`
	Effects    EffectsConfig   `mapstructure:"effects" yaml:"effects"`
	Server     ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage    StorageConfig   `mapstructure:"storage" yaml:"storage"`

	BuildVersion string `mapstructure:"-" yaml:"-"`
}

type WorkspaceConfig struct {
	Root      string `mapstructure:"root" yaml:"root" validate:"required"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir" validate:"required"`
}

// StageConfig описывает запуск внешнего процесса стадии (загрузчик или инференс).
// В Args допускаются плейсхолдеры {url}, {output_dir}, {format}, {template},
// {audio_dir}, {motion_dir}.
type StageConfig struct {
	Command        []string      `mapstructure:"command" yaml:"command" validate:"min=1,dive,required"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	WorkDir        string        `mapstructure:"work_dir" yaml:"work_dir"`
	Extension      string        `mapstructure:"extension" yaml:"extension" validate:"required,startswith=."`
	OutputName     string        `mapstructure:"output_name" yaml:"output_name"`
	Format         string        `mapstructure:"format" yaml:"format"`
	OutputTemplate string        `mapstructure:"output_template" yaml:"output_template"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

type RenderConfig struct {
	Width          int       `mapstructure:"width" yaml:"width" validate:"gt=0,max=8192"`
	Height         int       `mapstructure:"height" yaml:"height" validate:"gt=0,max=8192"`
	FPS            int       `mapstructure:"fps" yaml:"fps" validate:"gt=0,max=240"`
	CameraYFov     float64   `mapstructure:"camera_yfov" yaml:"camera_yfov" validate:"gt=0,lt=3.14159"`
	CameraPose     []float64 `mapstructure:"camera_pose" yaml:"camera_pose" validate:"len=16"`
	LightIntensity float64   `mapstructure:"light_intensity" yaml:"light_intensity" validate:"gte=0"`
	LightColor     []float64 `mapstructure:"light_color" yaml:"light_color" validate:"len=3,dive,gte=0,lte=1"`
	Background     []float64 `mapstructure:"background" yaml:"background" validate:"len=3,dive,gte=0,lte=1"`
	BodyColor      []float64 `mapstructure:"body_color" yaml:"body_color" validate:"len=3,dive,gte=0,lte=1"`
	ShowStats      bool      `mapstructure:"show_stats" yaml:"show_stats"`
	ProgressEvery  int       `mapstructure:"progress_every" yaml:"progress_every" validate:"gte=0"`
}

type VideoConfig struct {
	FFmpeg   string `mapstructure:"ffmpeg" yaml:"ffmpeg" validate:"required"`
	FFprobe  string `mapstructure:"ffprobe" yaml:"ffprobe" validate:"required"`
	Encoder  string `mapstructure:"encoder" yaml:"encoder" validate:"required"`
	Quality  int    `mapstructure:"quality" yaml:"quality" validate:"gte=0"`
	MuxAudio bool   `mapstructure:"mux_audio" yaml:"mux_audio"`
}

type EffectsConfig struct {
	Debug         bool `mapstructure:"debug" yaml:"debug"`
	Watermark     bool `mapstructure:"watermark" yaml:"watermark"`
	WatermarkSize int  `mapstructure:"watermark_size" yaml:"watermark_size" validate:"gte=21"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	BodyLimitMB       int           `mapstructure:"body_limit_mb" yaml:"body_limit_mb" validate:"gt=0"`
	MaxConcurrentRuns int64         `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs" validate:"gt=0"`
	QueueTimeout      time.Duration `mapstructure:"queue_timeout" yaml:"queue_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	AccountID       string `mapstructure:"account_id" yaml:"account_id"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id" validate:"required_if=Enabled true"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-" validate:"required_if=Enabled true"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	PublicURL       string `mapstructure:"public_url" yaml:"public_url" validate:"omitempty,url"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

// StreamParams - параметры одного видеопотока, передаются в энкодер явно.
type StreamParams struct {
	Width, Height int
	FPS           int
	Encoder       string
	Quality       int
}

func (c *Config) StreamParams(encoder string, quality int) StreamParams {
	return StreamParams{
		Width:   c.Render.Width,
		Height:  c.Render.Height,
		FPS:     c.Render.FPS,
		Encoder: encoder,
		Quality: quality,
	}
}

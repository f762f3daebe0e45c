package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/ivlev/dance2video/internal/config"
)

// FrameSink принимает кадры строго по порядку. Close финализирует поток;
// повторный вызов возвращает результат первого.
type FrameSink interface {
	WriteFrame(img *image.RGBA) error
	Frames() int
	Close() error
}

// Stream - видеопоток, который пишет кадры в stdin ffmpeg в формате bgr24.
type Stream struct {
	path   string
	params config.StreamParams

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailWriter
	buf    []byte
	frames int

	closeOnce sync.Once
	closeErr  error
}

// OpenStream запускает ffmpeg, который кодирует поток кадров в path.
func OpenStream(ctx context.Context, ffmpeg, path string, p config.StreamParams) (*Stream, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FPS <= 0 {
		return nil, fmt.Errorf("invalid stream params %dx%d@%d", p.Width, p.Height, p.FPS)
	}

	s := &Stream{
		path:   path,
		params: p,
		stderr: &tailWriter{limit: stderrTailSize},
		buf:    make([]byte, p.Width*p.Height*3),
	}

	s.cmd = exec.CommandContext(ctx, ffmpeg, BuildArgs(path, p)...)
	s.cmd.Stderr = s.stderr

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	s.stdin = stdin

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	return s, nil
}

// BuildArgs собирает аргументы ffmpeg для сырых bgr24 кадров на stdin.
func BuildArgs(path string, p config.StreamParams) []string {
	args := []string{
		"-y",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", strconv.Itoa(p.FPS),
		"-i", "-",
		"-an",
		"-c:v", p.Encoder,
		"-pix_fmt", "yuv420p",
	}
	args = append(args, QualityArgs(p.Encoder, p.Quality)...)
	args = append(args, "-movflags", "+faststart", path)
	return args
}

// QualityArgs - параметры качества в зависимости от энкодера.
func QualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox не везде поддерживает -q:v, используем битрейт
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", strconv.Itoa(quality)}
	default: // libx264
		return []string{"-crf", strconv.Itoa(quality), "-preset", "medium"}
	}
}

func (s *Stream) Path() string { return s.path }

func (s *Stream) Frames() int { return s.frames }

// WriteFrame дописывает кадр в конец потока.
func (s *Stream) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != s.params.Width || b.Dy() != s.params.Height {
		return fmt.Errorf("frame %d is %dx%d, stream is %dx%d", s.frames, b.Dx(), b.Dy(), s.params.Width, s.params.Height)
	}

	RGBAToBGR(s.buf, img)
	if _, err := s.stdin.Write(s.buf); err != nil {
		return fmt.Errorf("write frame %d: %w%s", s.frames, err, s.stderrTail())
	}
	s.frames++
	return nil
}

// Close закрывает stdin и ждет завершения ffmpeg. Повторные вызовы
// возвращают результат первого.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.stdin.Close()
		if err := s.cmd.Wait(); err != nil {
			s.closeErr = fmt.Errorf("ffmpeg wait error: %w%s", err, s.stderrTail())
		}
	})
	return s.closeErr
}

func (s *Stream) stderrTail() string {
	out := strings.TrimSpace(s.stderr.String())
	if out == "" {
		return ""
	}
	return ", output: " + out
}

const stderrTailSize = 2048

// tailWriter хранит последние limit байт stderr. os/exec пишет в него из
// своей горутины, пока WriteFrame может читать.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// RGBAToBGR переставляет каналы RGBA в порядок bgr24, отбрасывая альфу.
// dst должен вмещать W*H*3 байт.
func RGBAToBGR(dst []byte, img *image.RGBA) {
	b := img.Bounds()
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		out := dst[y*w*3:]
		for x := 0; x < w; x++ {
			out[x*3+0] = row[x*4+2]
			out[x*3+1] = row[x*4+1]
			out[x*3+2] = row[x*4+0]
		}
	}
}

// MuxAudio накладывает аудиодорожку на готовое видео без перекодирования
// видеоряда. Результат обрезается по более короткому потоку.
func MuxAudio(ctx context.Context, ffmpeg, videoPath, audioPath, outPath string) error {
	cmd := exec.CommandContext(ctx, ffmpeg, "-y",
		"-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy", "-c:a", "aac",
		"-shortest",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg mux error: %v, output: %s", err, string(out))
	}
	return nil
}

package stage

import (
	"context"
	"errors"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	outputTailSize = 16 * 1024
	waitDelay      = 5 * time.Second
)

// Command - один запуск внешнего процесса стадии.
type Command struct {
	Stage   string
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner запускает процесс и блокируется до его завершения. По истечении
// таймаута вся группа процессов получает SIGKILL.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	out := &tailBuffer{limit: outputTailSize}
	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("[*] [%s] Запуск: %s", c.Stage, c)
	start := time.Now()
	err := cmd.Run()
	if err == nil {
		log.Printf("[*] [%s] Завершено за %s", c.Stage, time.Since(start).Round(time.Millisecond))
		return nil
	}

	serr := &Error{Stage: c.Stage, Kind: ErrStageProcessFailure, Err: err, ExitCode: -1, Output: out.String()}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		serr.Kind = ErrStageTimeout
		serr.Err = context.DeadlineExceeded
		log.Printf("[!] [%s] Таймаут %s, процесс остановлен", c.Stage, c.Timeout)
		return serr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		serr.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		serr.Err = errors.Join(err, ctx.Err())
	}

	log.Printf("[!] [%s] Процесс завершился с ошибкой: %v", c.Stage, err)
	return serr
}

// Expand подставляет значения плейсхолдеров вида {name} в аргументы.
func Expand(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// tailBuffer хранит только последние limit байт вывода процесса.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

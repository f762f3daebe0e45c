package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

type progress interface {
	Add(n int)
	Finish()
}

// newProgress рисует полосу прогресса в терминале и печатает строки [>]
// каждые every кадров, если вывод перенаправлен. every=0 отключает вывод.
func newProgress(total, every int) progress {
	if every <= 0 {
		return nopProgress{}
	}
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return &barProgress{bar: progressbar.NewOptions(total,
			progressbar.OptionSetDescription("[>] Рендер"),
			progressbar.OptionSetWriter(os.Stdout),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("fr"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stdout) }),
		)}
	}
	return &lineProgress{w: os.Stdout, total: total, every: every}
}

type nopProgress struct{}

func (nopProgress) Add(int) {}
func (nopProgress) Finish() {}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Add(n int) { p.bar.Add(n) }
func (p *barProgress) Finish()   { p.bar.Finish() }

type lineProgress struct {
	w                  io.Writer
	total, every, done int
}

func (p *lineProgress) Add(n int) {
	p.done += n
	if p.done%p.every == 0 || p.done == p.total {
		fmt.Fprintf(p.w, "[>] Кадр %d/%d\n", p.done, p.total)
	}
}

func (p *lineProgress) Finish() {}

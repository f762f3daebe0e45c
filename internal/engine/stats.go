package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const benchmarkLog = "benchmark.log"

// memoryUsage возвращает RSS процесса и занятую долю системной памяти.
func memoryUsage() (rss uint64, usedPercent float64) {
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			rss = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usedPercent = vm.UsedPercent
	}
	return rss, usedPercent
}

// writeReport печатает отчет о производительности и дописывает строку в
// benchmarkLog в рабочем каталоге.
func writeReport(w io.Writer, build, input string, res *RenderResult) {
	fps := 0.0
	if res.Total > 0 {
		fps = float64(res.Frames) / res.Total.Seconds()
	}
	rss, used := memoryUsage()

	fmt.Fprintf(w,
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Frames: %d (%s)\n"+
			"Total Time: %.2fs\n"+
			"Rendering (CPU): %.2fs\n"+
			"Encoding: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"Framing: empty %d, clipped %d\n"+
			"Memory: RSS %.1f MiB, system %.1f%%\n"+
			"----------------------------\n",
		build, res.Frames, res.Encoder, res.Total.Seconds(), res.Rendering.Seconds(), res.Encoding.Seconds(), fps,
		res.EmptyFrames, res.ClippedFrames,
		float64(rss)/(1<<20), used,
	)

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Frames: %d | Total: %.2fs | Render: %.2fs | Encode: %.2fs | FPS: %.2f | RSS: %.1fMiB\n",
		time.Now().Format("2006-01-02 15:04:05"),
		build,
		filepath.Base(input),
		res.Frames,
		res.Total.Seconds(),
		res.Rendering.Seconds(),
		res.Encoding.Seconds(),
		fps,
		float64(rss)/(1<<20),
	)

	f, err := os.OpenFile(benchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(w, "[!] Не удалось записать %s: %v\n", benchmarkLog, err)
		return
	}
	f.WriteString(logEntry)
	f.Close()
}

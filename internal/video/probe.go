package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Info - параметры первого видеопотока файла.
type Info struct {
	Width, Height int
	FPS           float64
	Frames        int
}

// Probe читает параметры видео через ffprobe, считая кадры.
func Probe(ctx context.Context, ffprobe, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=width,height,r_frame_rate,nb_read_frames",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe error: %w", err)
	}

	var res struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			RFrameRate   string `json:"r_frame_rate"`
			NbReadFrames string `json:"nb_read_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return Info{}, fmt.Errorf("в %s нет видеопотока", path)
	}

	st := res.Streams[0]
	info := Info{Width: st.Width, Height: st.Height}
	info.Frames, _ = strconv.Atoi(st.NbReadFrames)
	info.FPS = parseRate(st.RFrameRate)
	return info, nil
}

// parseRate разбирает дробь вида "25/1".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"
)

type Prober struct {
	binary string
}

func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Probe reads the duration, native frame rate and dimensions of the first
// video stream of a local file.
func (p *Prober) Probe(ctx context.Context, path string) (*domain.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-select_streams", "V:0",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var ff ffprobeOutput
	if err := json.Unmarshal(output, &ff); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := &domain.VideoInfo{}

	if dur, err := strconv.ParseFloat(ff.Format.Duration, 64); err == nil {
		info.Duration = dur
	}

	for _, s := range ff.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Codec = s.CodecName
		info.Width = s.Width
		info.Height = s.Height
		info.FrameRate = parseFrameRate(s.AvgFrameRate)
		if info.FrameRate <= 0 {
			info.FrameRate = parseFrameRate(s.RFrameRate)
		}
		if info.Duration <= 0 {
			if dur, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				info.Duration = dur
			}
		}
		break
	}

	if info.FrameRate <= 0 {
		return nil, fmt.Errorf("no video frame rate in %s", path)
	}

	return info, nil
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

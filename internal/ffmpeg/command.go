package ffmpeg

import (
	"fmt"

	"github.com/eleven-am/slidepdf/internal/domain"
)

const DefaultRenderWidth = 1280

type CommandBuilder struct {
	HWAccel *domain.HWAccelConfig
}

func NewCommandBuilder(hwAccel *domain.HWAccelConfig) *CommandBuilder {
	if hwAccel == nil {
		hwAccel = &domain.HWAccelConfig{Accelerator: domain.AccelNone}
	}
	return &CommandBuilder{HWAccel: hwAccel}
}

type SampleParams struct {
	InputPath string
	Start     float64
	End       float64
	Stride    int
	Width     int
	Height    int
}

// Sample builds args that decode [Start, End) of the input and write every
// Stride-th frame to stdout as packed rgb24 at Width x Height.
func (b *CommandBuilder) Sample(p SampleParams) []string {
	stride := p.Stride
	if stride < 1 {
		stride = 1
	}

	args := []string{
		"-nostats", "-hide_banner", "-loglevel", "error",
	}

	args = append(args, b.HWAccel.DecodeFlags...)

	args = append(args,
		"-ss", fmt.Sprintf("%.6f", p.Start),
		"-i", p.InputPath,
		"-t", fmt.Sprintf("%.6f", p.End-p.Start),
		"-map", "0:V:0",
		"-an", "-sn",
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d)),scale=%d:%d`, stride, p.Width, p.Height),
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	return args
}

// RenderSize keeps the source aspect ratio, caps the width at maxWidth without
// upscaling, and rounds both sides to even values.
func RenderSize(srcWidth, srcHeight, maxWidth int) (int, int) {
	if maxWidth <= 0 {
		maxWidth = DefaultRenderWidth
	}
	if srcWidth <= 0 || srcHeight <= 0 {
		return even(maxWidth), even(maxWidth * 9 / 16)
	}

	width := srcWidth
	if width > maxWidth {
		width = maxWidth
	}
	height := int(float64(width) * float64(srcHeight) / float64(srcWidth))

	return even(width), even(height)
}

func even(v int) int {
	if v%2 != 0 {
		v++
	}
	if v < 2 {
		v = 2
	}
	return v
}

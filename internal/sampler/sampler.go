package sampler

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/ffmpeg"

	"github.com/sirupsen/logrus"
)

// Sampler decodes every stride-th frame of a segment through one ffmpeg
// process per segment.
type Sampler struct {
	binary     string
	cmdBuilder *ffmpeg.CommandBuilder
	log        *logrus.Entry
}

func New(binary string, cmdBuilder *ffmpeg.CommandBuilder, log *logrus.Entry) *Sampler {
	if binary == "" {
		binary = "ffmpeg"
	}
	if cmdBuilder == nil {
		cmdBuilder = ffmpeg.NewCommandBuilder(nil)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sampler{binary: binary, cmdBuilder: cmdBuilder, log: log}
}

func (s *Sampler) Open(ctx context.Context, req domain.SampleRequest) (domain.FrameReader, error) {
	if req.End <= req.Start {
		return nil, fmt.Errorf("empty sample range [%v, %v)", req.Start, req.End)
	}

	width, height := ffmpeg.RenderSize(req.SourceWidth, req.SourceHeight, req.RenderWidth)
	args := s.cmdBuilder.Sample(ffmpeg.SampleParams{
		InputPath: req.Path,
		Start:     req.Start,
		End:       req.End,
		Stride:    req.Stride,
		Width:     width,
		Height:    height,
	})

	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, s.binary, args...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":   req.Path,
		"start":  req.Start,
		"end":    req.End,
		"stride": req.Stride,
		"size":   fmt.Sprintf("%dx%d", width, height),
	}).Debug("frame sampler started")

	return newReader(cmd, stdout, stderr, cancel, width, height), nil
}

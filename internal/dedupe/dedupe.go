package dedupe

import (
	"errors"
	"fmt"
	"image/png"
	"io"
	"path/filepath"

	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/segment"
	"github.com/eleven-am/slidepdf/internal/similarity"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

type Params struct {
	FrameRate  float64
	Stride     int
	Threshold  float64
	ScratchDir string
	// FlushTail commits the last staged sample when the scan ends.
	FlushTail bool
}

type Deduplicator struct {
	log *logrus.Entry
}

func New(log *logrus.Entry) *Deduplicator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Deduplicator{log: log}
}

// Dedupe scans the sampled frames of seg and returns the visually distinct
// ones in acceptance order. A read error ends the scan early; frames accepted
// so far are still returned. Accepted frames are written as PNG into
// p.ScratchDir.
func (d *Deduplicator) Dedupe(reader domain.FrameReader, seg domain.Segment, p Params) ([]domain.AcceptedFrame, error) {
	if p.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", p.FrameRate)
	}
	stride := p.Stride
	if stride < 1 {
		stride = 1
	}

	startFrame, endFrame := segment.Bounds(seg, p.FrameRate)
	m := newMachine(p.FrameRate, p.Threshold)

	var accepted []domain.AcceptedFrame
	commit := func(s *sample) error {
		af, err := d.save(p.ScratchDir, seg.Index, s.frame)
		if err != nil {
			return err
		}
		accepted = append(accepted, af)
		return nil
	}

	for pos := startFrame; pos < endFrame; pos += stride {
		img, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.log.WithError(err).WithField("frame", pos).Debug("frame read ended scan")
			}
			break
		}

		cur := sample{
			frame: domain.SampledFrame{
				FrameNumber: pos,
				Timestamp:   float64(pos) / p.FrameRate,
				Image:       img,
			},
			thumb: similarity.Thumbnail(img),
		}

		_, committed := m.step(cur)
		if committed == nil {
			continue
		}
		if err := commit(committed); err != nil {
			return accepted, err
		}
	}

	if p.FlushTail {
		if tail := m.flush(); tail != nil {
			if err := commit(tail); err != nil {
				return accepted, err
			}
		}
	}

	d.log.WithFields(logrus.Fields{
		"segment":  seg.Index,
		"accepted": len(accepted),
	}).Debug("segment deduplicated")

	return accepted, nil
}

func (d *Deduplicator) save(dir string, segmentIndex int, f domain.SampledFrame) (domain.AcceptedFrame, error) {
	path := filepath.Join(dir, fmt.Sprintf("seg%03d_frame%08d.png", segmentIndex, f.FrameNumber))
	if err := imaging.Save(f.Image, path, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return domain.AcceptedFrame{}, fmt.Errorf("save frame %d: %w", f.FrameNumber, err)
	}

	return domain.AcceptedFrame{
		FrameNumber: f.FrameNumber,
		Timestamp:   f.Timestamp,
		ImagePath:   path,
	}, nil
}

package dedupe

import (
	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/similarity"
)

type phase int

const (
	phaseEmpty phase = iota
	phaseStaged
)

type transition string

const (
	// First sample of a window: committed immediately as the anchor.
	transitionAnchor transition = "anchor"
	// Content changed and the gap elapsed: the staged sample is committed.
	transitionCommit transition = "commit"
	// Content changed too soon after the last commit: restage without committing.
	transitionRestage transition = "restage"
	// Content unchanged: keep the freshest instance staged.
	transitionRefresh transition = "refresh"
)

type sample struct {
	frame domain.SampledFrame
	thumb similarity.Gray
}

// machine is the delayed-commit state: Empty, or Staged(sample, lastAccepted).
// The baseline is the thumbnail of the immediately preceding sample.
type machine struct {
	phase        phase
	staged       sample
	baseline     similarity.Gray
	lastAccepted int

	minGap    float64
	threshold float64
}

func newMachine(frameRate, threshold float64) *machine {
	return &machine{
		phase:     phaseEmpty,
		minGap:    frameRate,
		threshold: threshold,
	}
}

// step consumes one sample and returns the transition taken together with
// the sample to commit, if any.
func (m *machine) step(cur sample) (transition, *sample) {
	defer func() { m.baseline = cur.thumb }()

	if m.phase == phaseEmpty {
		return m.anchor(cur)
	}

	if similarity.SSIM(cur.thumb, m.baseline) < m.threshold {
		if m.gapElapsed() {
			return m.commitChange(cur)
		}
		return m.restage(cur)
	}

	return m.refresh(cur)
}

func (m *machine) anchor(cur sample) (transition, *sample) {
	m.phase = phaseStaged
	m.staged = cur
	m.lastAccepted = cur.frame.FrameNumber
	return transitionAnchor, &cur
}

func (m *machine) commitChange(cur sample) (transition, *sample) {
	committed := m.staged
	m.lastAccepted = committed.frame.FrameNumber
	m.staged = cur
	return transitionCommit, &committed
}

func (m *machine) restage(cur sample) (transition, *sample) {
	m.staged = cur
	return transitionRestage, nil
}

func (m *machine) refresh(cur sample) (transition, *sample) {
	m.staged = cur
	return transitionRefresh, nil
}

func (m *machine) gapElapsed() bool {
	return float64(m.staged.frame.FrameNumber-m.lastAccepted) > m.minGap
}

// flush commits the staged sample at the end of a scan when the gap rule allows it.
func (m *machine) flush() *sample {
	if m.phase != phaseStaged || !m.gapElapsed() {
		return nil
	}
	committed := m.staged
	m.lastAccepted = committed.frame.FrameNumber
	return &committed
}

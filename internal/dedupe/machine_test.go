package dedupe

import (
	"testing"

	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/similarity"
)

func grayPattern(kind int) similarity.Gray {
	const w, h = 32, 18
	g := similarity.Gray{Width: w, Height: h, Pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float64
			switch kind {
			case 0:
				v = float64((x / 4 % 2) * 255)
			case 1:
				v = float64((y / 4 % 2) * 255)
			default:
				v = float64(255 - (x/4%2)*255)
			}
			g.Pix[y*w+x] = v
		}
	}
	return g
}

func at(frame int, kind int) sample {
	return sample{
		frame: domain.SampledFrame{FrameNumber: frame, Timestamp: float64(frame) / 10},
		thumb: grayPattern(kind),
	}
}

func TestMachine_FirstSampleIsAnchor(t *testing.T) {
	m := newMachine(10, 0.8)

	tr, committed := m.step(at(100, 0))
	if tr != transitionAnchor {
		t.Fatalf("expected anchor, got %s", tr)
	}
	if committed == nil || committed.frame.FrameNumber != 100 {
		t.Fatalf("anchor must be committed, got %#v", committed)
	}
	if m.phase != phaseStaged || m.lastAccepted != 100 {
		t.Fatalf("unexpected state after anchor: phase=%v last=%d", m.phase, m.lastAccepted)
	}
}

func TestMachine_RefreshKeepsFreshestStableSample(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))

	tr, committed := m.step(at(5, 0))
	if tr != transitionRefresh || committed != nil {
		t.Fatalf("expected refresh without commit, got %s %#v", tr, committed)
	}
	if m.staged.frame.FrameNumber != 5 {
		t.Fatalf("staged should track latest stable sample, got %d", m.staged.frame.FrameNumber)
	}
}

func TestMachine_ChangeBeforeGapRestages(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))

	tr, committed := m.step(at(5, 1))
	if tr != transitionRestage || committed != nil {
		t.Fatalf("expected restage, got %s %#v", tr, committed)
	}
	if m.staged.frame.FrameNumber != 5 || m.lastAccepted != 0 {
		t.Fatalf("unexpected state: staged=%d last=%d", m.staged.frame.FrameNumber, m.lastAccepted)
	}
}

func TestMachine_ChangeAfterGapCommitsStagedNotCurrent(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))
	m.step(at(15, 0))

	tr, committed := m.step(at(20, 1))
	if tr != transitionCommit {
		t.Fatalf("expected commit, got %s", tr)
	}
	if committed == nil || committed.frame.FrameNumber != 15 {
		t.Fatalf("expected staged frame 15 to be committed, got %#v", committed)
	}
	if m.staged.frame.FrameNumber != 20 || m.lastAccepted != 15 {
		t.Fatalf("unexpected state: staged=%d last=%d", m.staged.frame.FrameNumber, m.lastAccepted)
	}
}

func TestMachine_GapIsStrict(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))
	m.step(at(10, 0))

	if tr, _ := m.step(at(15, 1)); tr != transitionRestage {
		t.Fatalf("gap equal to frame rate must not commit, got %s", tr)
	}
}

func TestMachine_BaselineIsPreviousSample(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))
	m.step(at(20, 1))

	// Same as the previous sample, so no change even though it differs from the anchor.
	if tr, _ := m.step(at(40, 1)); tr != transitionRefresh {
		t.Fatalf("expected refresh against previous sample, got %s", tr)
	}
}

func TestMachine_ThresholdAboveMaximumTreatsEverySampleAsChange(t *testing.T) {
	m := newMachine(1, 1.01)
	m.step(at(0, 0))

	if tr, _ := m.step(at(5, 0)); tr != transitionRestage {
		t.Fatalf("expected restage while staged is the anchor, got %s", tr)
	}
	if tr, committed := m.step(at(10, 0)); tr != transitionCommit || committed.frame.FrameNumber != 5 {
		t.Fatalf("expected frame 5 committed, got %s %#v", tr, committed)
	}
}

func TestMachine_FlatFrameNeverTriggersChange(t *testing.T) {
	m := newMachine(10, 0.8)
	m.step(at(0, 0))

	blank := at(50, 0)
	blank.thumb = similarity.Gray{Width: 32, Height: 18, Pix: make([]float64, 32*18)}
	if tr, _ := m.step(blank); tr != transitionRefresh {
		t.Fatalf("flat frame should be treated as similar, got %s", tr)
	}
}

func TestMachine_Flush(t *testing.T) {
	m := newMachine(10, 0.8)
	if m.flush() != nil {
		t.Fatalf("empty machine must not flush")
	}

	m.step(at(0, 0))
	if m.flush() != nil {
		t.Fatalf("anchor must not be flushed twice")
	}

	m.step(at(30, 0))
	tail := m.flush()
	if tail == nil || tail.frame.FrameNumber != 30 {
		t.Fatalf("expected staged frame 30 to flush, got %#v", tail)
	}
}

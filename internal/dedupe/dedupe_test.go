package dedupe

import (
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"testing"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slide int

const (
	slideVertical slide = iota
	slideHorizontal
	slideInverted
)

func render(s slide) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 256, 144))
	for y := 0; y < 144; y++ {
		for x := 0; x < 256; x++ {
			var on bool
			switch s {
			case slideVertical:
				on = x/16%2 == 0
			case slideHorizontal:
				on = y/16%2 == 0
			case slideInverted:
				on = x/16%2 == 1
			}
			c := color.NRGBA{A: 255}
			if on {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

type fakeReader struct {
	frames []image.Image
	failAt int
	err    error
	pos    int
	closed bool
}

func newFakeReader(slides ...slide) *fakeReader {
	cache := map[slide]image.Image{}
	r := &fakeReader{failAt: -1}
	for _, s := range slides {
		if _, ok := cache[s]; !ok {
			cache[s] = render(s)
		}
		r.frames = append(r.frames, cache[s])
	}
	return r
}

func (r *fakeReader) Next() (image.Image, error) {
	if r.failAt >= 0 && r.pos == r.failAt {
		return nil, r.err
	}
	if r.pos >= len(r.frames) {
		return nil, io.EOF
	}
	img := r.frames[r.pos]
	r.pos++
	return img, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func repeat(s slide, n int) []slide {
	out := make([]slide, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func lecture() []slide {
	var slides []slide
	slides = append(slides, repeat(slideVertical, 6)...)
	slides = append(slides, repeat(slideHorizontal, 6)...)
	slides = append(slides, repeat(slideInverted, 8)...)
	return slides
}

func frameNumbers(frames []domain.AcceptedFrame) []int {
	out := make([]int, len(frames))
	for i, f := range frames {
		out[i] = f.FrameNumber
	}
	return out
}

func params(t *testing.T) Params {
	return Params{
		FrameRate:  10,
		Stride:     5,
		Threshold:  0.8,
		ScratchDir: t.TempDir(),
	}
}

func TestDedupe_CommitsLastInstanceOfEachSlide(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	frames, err := d.Dedupe(newFakeReader(lecture()...), seg, params(t))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 25, 55}, frameNumbers(frames))
	assert.InDelta(t, 0.0, frames[0].Timestamp, 1e-9)
	assert.InDelta(t, 2.5, frames[1].Timestamp, 1e-9)
	assert.InDelta(t, 5.5, frames[2].Timestamp, 1e-9)
}

func TestDedupe_FlushTailCommitsFinalSlide(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}
	p := params(t)
	p.FlushTail = true

	frames, err := d.Dedupe(newFakeReader(lecture()...), seg, p)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 25, 55, 95}, frameNumbers(frames))
}

func TestDedupe_WritesAcceptedFramesToScratch(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 3, Start: 0, End: 10, Duration: 10}
	p := params(t)

	frames, err := d.Dedupe(newFakeReader(lecture()...), seg, p)
	require.NoError(t, err)
	require.NotEmpty(t, frames)

	for _, f := range frames {
		info, err := os.Stat(f.ImagePath)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
		assert.Contains(t, f.ImagePath, "seg003_")
	}
}

func TestDedupe_FrameNumbersFollowSegmentStart(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 1, Start: 100, End: 110, Duration: 10}

	frames, err := d.Dedupe(newFakeReader(lecture()...), seg, params(t))
	require.NoError(t, err)

	assert.Equal(t, []int{1000, 1025, 1055}, frameNumbers(frames))
	assert.InDelta(t, 100.0, frames[0].Timestamp, 1e-9)
}

func TestDedupe_RapidAlternationRespectsMinimumGap(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	var slides []slide
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			slides = append(slides, slideVertical)
		} else {
			slides = append(slides, slideHorizontal)
		}
	}

	frames, err := d.Dedupe(newFakeReader(slides...), seg, params(t))
	require.NoError(t, err)
	require.NotEmpty(t, frames)

	assert.Equal(t, 0, frames[0].FrameNumber)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].FrameNumber-frames[i-1].FrameNumber, 10,
			"frames %d and %d are closer than one second", frames[i-1].FrameNumber, frames[i].FrameNumber)
	}
}

func TestDedupe_StaticContentYieldsOnlyAnchor(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	frames, err := d.Dedupe(newFakeReader(repeat(slideVertical, 20)...), seg, params(t))
	require.NoError(t, err)

	assert.Equal(t, []int{0}, frameNumbers(frames))
}

func TestDedupe_ReadFailureStopsScanKeepingAcceptedFrames(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	reader := newFakeReader(lecture()...)
	reader.failAt = 12
	reader.err = errors.New("decoder crashed")

	frames, err := d.Dedupe(reader, seg, params(t))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 25}, frameNumbers(frames))
}

func TestDedupe_ImmediateEOFYieldsNothing(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	frames, err := d.Dedupe(newFakeReader(), seg, params(t))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestDedupe_IsDeterministic(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}

	first, err := d.Dedupe(newFakeReader(lecture()...), seg, params(t))
	require.NoError(t, err)
	second, err := d.Dedupe(newFakeReader(lecture()...), seg, params(t))
	require.NoError(t, err)

	assert.Equal(t, frameNumbers(first), frameNumbers(second))
}

func TestDedupe_RejectsInvalidFrameRate(t *testing.T) {
	d := New(nil)
	seg := domain.Segment{Index: 0, Start: 0, End: 10, Duration: 10}
	p := params(t)
	p.FrameRate = 0

	_, err := d.Dedupe(newFakeReader(lecture()...), seg, p)
	assert.Error(t, err)
}

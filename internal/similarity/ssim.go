package similarity

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	ThumbWidth  = 128
	ThumbHeight = 72

	windowSize = 7
	k1         = 0.01
	k2         = 0.03
)

// Gray is a row-major grayscale raster with intensities in [0, 255].
type Gray struct {
	Width  int
	Height int
	Pix    []float64
}

// Thumbnail downscales img to the comparison size and converts it to grayscale.
func Thumbnail(img image.Image) Gray {
	return thumbnail(img, ThumbWidth, ThumbHeight)
}

func thumbnail(img image.Image, width, height int) Gray {
	small := imaging.Grayscale(imaging.Resize(img, width, height, imaging.Linear))

	b := small.Bounds()
	g := Gray{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    make([]float64, b.Dx()*b.Dy()),
	}
	for y := 0; y < g.Height; y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < g.Width; x++ {
			g.Pix[y*g.Width+x] = float64(row[x*4])
		}
	}
	return g
}

// Range returns the minimum and maximum intensity.
func (g Gray) Range() (float64, float64) {
	if len(g.Pix) == 0 {
		return 0, 0
	}
	lo, hi := g.Pix[0], g.Pix[0]
	for _, v := range g.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Flat reports whether every pixel has the same intensity.
func (g Gray) Flat() bool {
	lo, hi := g.Range()
	return lo == hi
}

// SSIM computes the mean structural similarity of a and b using a 7x7 uniform
// window and sample covariance. The data range is taken from a. A flat a
// yields 1. Mismatched sizes yield 0.
func SSIM(a, b Gray) float64 {
	if a.Width != b.Width || a.Height != b.Height || len(a.Pix) == 0 {
		return 0
	}

	lo, hi := a.Range()
	dataRange := hi - lo
	if dataRange == 0 {
		return 1
	}

	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	if a.Width < windowSize || a.Height < windowSize {
		return windowSSIM(globalStats(a, b), c1, c2)
	}

	it := newIntegrals(a, b)

	var total float64
	var count int
	for y := 0; y+windowSize <= a.Height; y++ {
		for x := 0; x+windowSize <= a.Width; x++ {
			total += windowSSIM(it.stats(x, y, windowSize), c1, c2)
			count++
		}
	}

	return total / float64(count)
}

type stats struct {
	n     float64
	sumA  float64
	sumB  float64
	sumAA float64
	sumBB float64
	sumAB float64
}

func windowSSIM(s stats, c1, c2 float64) float64 {
	meanA := s.sumA / s.n
	meanB := s.sumB / s.n

	covNorm := 1.0
	if s.n > 1 {
		covNorm = s.n / (s.n - 1)
	}

	varA := covNorm * (s.sumAA/s.n - meanA*meanA)
	varB := covNorm * (s.sumBB/s.n - meanB*meanB)
	covAB := covNorm * (s.sumAB/s.n - meanA*meanB)

	num := (2*meanA*meanB + c1) * (2*covAB + c2)
	den := (meanA*meanA + meanB*meanB + c1) * (varA + varB + c2)
	return num / den
}

func globalStats(a, b Gray) stats {
	s := stats{n: float64(len(a.Pix))}
	for i := range a.Pix {
		va, vb := a.Pix[i], b.Pix[i]
		s.sumA += va
		s.sumB += vb
		s.sumAA += va * va
		s.sumBB += vb * vb
		s.sumAB += va * vb
	}
	return s
}

// integrals holds summed-area tables of size (w+1)*(h+1).
type integrals struct {
	stride int
	a      []float64
	b      []float64
	aa     []float64
	bb     []float64
	ab     []float64
}

func newIntegrals(a, b Gray) *integrals {
	w, h := a.Width, a.Height
	stride := w + 1
	size := stride * (h + 1)
	it := &integrals{
		stride: stride,
		a:      make([]float64, size),
		b:      make([]float64, size),
		aa:     make([]float64, size),
		bb:     make([]float64, size),
		ab:     make([]float64, size),
	}

	for y := 0; y < h; y++ {
		var ra, rb, raa, rbb, rab float64
		for x := 0; x < w; x++ {
			va, vb := a.Pix[y*w+x], b.Pix[y*w+x]
			ra += va
			rb += vb
			raa += va * va
			rbb += vb * vb
			rab += va * vb

			i := (y+1)*stride + x + 1
			up := y*stride + x + 1
			it.a[i] = it.a[up] + ra
			it.b[i] = it.b[up] + rb
			it.aa[i] = it.aa[up] + raa
			it.bb[i] = it.bb[up] + rbb
			it.ab[i] = it.ab[up] + rab
		}
	}

	return it
}

func (it *integrals) stats(x, y, size int) stats {
	tl := y*it.stride + x
	tr := y*it.stride + x + size
	bl := (y+size)*it.stride + x
	br := (y+size)*it.stride + x + size

	sum := func(t []float64) float64 {
		return t[br] - t[tr] - t[bl] + t[tl]
	}

	return stats{
		n:     float64(size * size),
		sumA:  sum(it.a),
		sumB:  sum(it.b),
		sumAA: sum(it.aa),
		sumBB: sum(it.bb),
		sumAB: sum(it.ab),
	}
}

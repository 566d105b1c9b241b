package segment

import (
	"math"

	"github.com/eleven-am/slidepdf/internal/domain"
)

// Calculate splits [0, duration) into contiguous windows of the given length.
// The last window is shortened to end exactly at duration.
func Calculate(duration float64, window float64) []domain.Segment {
	if duration <= 0 || window <= 0 {
		return nil
	}

	count := int(math.Ceil(duration / window))
	segments := make([]domain.Segment, 0, count)

	for i := 0; i < count; i++ {
		start := float64(i) * window
		if start >= duration {
			break
		}
		end := math.Min(float64(i+1)*window, duration)

		segments = append(segments, domain.Segment{
			Index:    i,
			Start:    start,
			End:      end,
			Duration: end - start,
		})
	}

	return segments
}

// Bounds converts a segment into the half-open frame range it covers at fps.
func Bounds(seg domain.Segment, fps float64) (int, int) {
	return int(seg.Start * fps), int(seg.End * fps)
}

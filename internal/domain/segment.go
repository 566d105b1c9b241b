package domain

// Segment is the half-open time window [Start, End) in seconds covered by one
// document. Index is zero-based.
type Segment struct {
	Index    int
	Start    float64
	End      float64
	Duration float64
}

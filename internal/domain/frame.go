package domain

import "image"

type SampledFrame struct {
	FrameNumber int
	Timestamp   float64
	Image       image.Image
}

type AcceptedFrame struct {
	FrameNumber int
	Timestamp   float64
	ImagePath   string
}

type SampleRequest struct {
	Path         string
	Start        float64
	End          float64
	Stride       int
	RenderWidth  int
	SourceWidth  int
	SourceHeight int
}

package domain

type Progress struct {
	Percent float64
	Rate    string
}

type FetchedAsset struct {
	Title    string
	Path     string
	Duration float64
}

type VideoInfo struct {
	Duration  float64
	FrameRate float64
	Width     int
	Height    int
	Codec     string
}

type MediaAsset struct {
	Title     string
	Path      string
	FrameRate float64
	Duration  float64
	Width     int
	Height    int
}

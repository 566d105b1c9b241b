package domain

type Page struct {
	FrameNumber int
	Timestamp   float64
	Caption     string
}

type Document struct {
	SegmentIndex int
	Pages        []Page
	Data         []byte
	Truncated    bool
}

func (d *Document) PageCount() int {
	if d == nil {
		return 0
	}
	return len(d.Pages)
}

func (d *Document) Empty() bool {
	return d.PageCount() == 0
}

type Payload struct {
	Data    []byte
	Name    string
	Caption string
}

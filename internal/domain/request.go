package domain

import "time"

type RequestState string

const (
	StateAdmitted   RequestState = "admitted"
	StateFetching   RequestState = "fetching"
	StateSegmenting RequestState = "segmenting"
	StateExtracting RequestState = "extracting"
	StateAssembling RequestState = "assembling"
	StateDelivering RequestState = "delivering"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Request struct {
	ID          string
	RequesterID string
	// Requester display name, used in channel notifications only.
	RequesterName string
	Source        string
	Tier          string
	State         RequestState
	CreatedAt     time.Time
}

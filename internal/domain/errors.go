package domain

import (
	"errors"
	"fmt"
)

var (
	ErrServerFull     = errors.New("server full")
	ErrRequesterLimit = errors.New("requester limit reached")

	ErrTransient       = errors.New("transient delivery failure")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrPermanent       = errors.New("permanent delivery failure")

	ErrAcquisitionDenied = errors.New("acquisition denied")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrSegmentEmpty      = errors.New("segment empty")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrInternal          = errors.New("internal failure")
)

type ErrorKind string

const (
	KindAcquisitionDenied ErrorKind = "acquisition_denied"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindPolicyViolation   ErrorKind = "policy_violation"
	KindSegmentEmpty      ErrorKind = "segment_empty"
	KindDeliveryFailure   ErrorKind = "delivery_failure"
	KindInternalFailure   ErrorKind = "internal_failure"
)

var kindSentinels = map[ErrorKind]error{
	KindAcquisitionDenied: ErrAcquisitionDenied,
	KindSourceUnavailable: ErrSourceUnavailable,
	KindPolicyViolation:   ErrPolicyViolation,
	KindSegmentEmpty:      ErrSegmentEmpty,
	KindDeliveryFailure:   ErrDeliveryFailed,
	KindInternalFailure:   ErrInternal,
}

// PipelineError carries the failure class of a request or of one of its segments.
// Segment is -1 when the error is not tied to a segment.
type PipelineError struct {
	Kind    ErrorKind
	Segment int
	Err     error
}

func NewError(kind ErrorKind, segment int, err error) *PipelineError {
	return &PipelineError{Kind: kind, Segment: segment, Err: err}
}

func (e *PipelineError) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("%s (segment %d): %v", e.Kind, e.Segment, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	return []error{kindSentinels[e.Kind], e.Err}
}

// KindOf returns the pipeline error kind carried by err, or "" when none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

package domain

import (
	"context"
	"image"
)

type MediaFetcher interface {
	FetchDuration(ctx context.Context, source string) (float64, error)
	FetchAsset(ctx context.Context, source string, onProgress func(Progress)) (*FetchedAsset, error)
}

type Prober interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
}

type FrameReader interface {
	Next() (image.Image, error)
	Close() error
}

type FrameSampler interface {
	Open(ctx context.Context, req SampleRequest) (FrameReader, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, requesterID string, p Payload) error
	SendText(ctx context.Context, requesterID string, text string) error
}

type Notifier interface {
	NotifyText(ctx context.Context, text string) error
	NotifyDocument(ctx context.Context, p Payload) error
}

type StatusReporter interface {
	Report(ctx context.Context, ev Event)
}

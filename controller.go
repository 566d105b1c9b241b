// Package slidepdf turns long videos into paginated PDF documents of their
// visually distinct moments.
//
// A request names a video source and the requester it belongs to. The
// controller admits it under a global and a per-requester concurrency limit,
// fetches the video, cuts it into fixed-length windows and, for each window in
// order, samples frames, keeps the ones that differ from what came before and
// renders them into one document that is handed to a delivery collaborator.
//
// # Architecture
//
// The library talks to the outside world only through a few interfaces:
//
//   - MediaFetcher: resolves a source's duration and downloads it
//   - Prober: reads the native frame rate and dimensions of a local file
//   - Deliverer: sends documents and status text to the requester
//   - Notifier: optional best-effort mirror to a secondary channel
//   - StatusReporter: optional consumer of progress and lifecycle events
//
// # Basic Usage
//
//	controller, err := slidepdf.NewController(slidepdf.Options{
//	    Fetcher:   myFetcher,
//	    Prober:    probe.NewProber(""),
//	    Deliverer: myDeliverer,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := controller.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer controller.Stop()
//
//	id, err := controller.Submit(ctx, slidepdf.Request{
//	    RequesterID: "42",
//	    Source:      "https://youtu.be/dQw4w9WgXcQ",
//	})
//
// # Failure Isolation
//
// A window that yields no distinct frame, or whose document cannot be
// delivered after the configured retries, is recorded in the Result and the
// request moves on to the next window. Fetch failures, duration policy
// violations and unexpected faults end the request. Every terminal path
// releases the admission slot and removes the downloaded asset and all
// scratch images exactly once.
package slidepdf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/eleven-am/slidepdf/internal/admission"
	"github.com/eleven-am/slidepdf/internal/dedupe"
	"github.com/eleven-am/slidepdf/internal/delivery"
	"github.com/eleven-am/slidepdf/internal/document"
	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/events"
	"github.com/eleven-am/slidepdf/internal/ffmpeg"
	"github.com/eleven-am/slidepdf/internal/hwaccel"
	"github.com/eleven-am/slidepdf/internal/metrics"
	"github.com/eleven-am/slidepdf/internal/sampler"
	"github.com/eleven-am/slidepdf/internal/scratch"
	"github.com/eleven-am/slidepdf/internal/workerpool"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type (
	// MediaFetcher resolves and downloads video sources. Any failure is final
	// for the request; retries belong inside the implementation.
	MediaFetcher = domain.MediaFetcher

	// Prober reads stream properties of a downloaded file.
	Prober = domain.Prober

	// FrameSampler decodes the sampled frames of one window.
	FrameSampler = domain.FrameSampler

	// Deliverer sends documents and text to a requester. Errors should wrap
	// ErrTransient, ErrPayloadTooLarge or ErrPermanent.
	Deliverer = domain.Deliverer

	// Notifier mirrors status text and documents to a secondary channel.
	Notifier = domain.Notifier

	// StatusReporter consumes request events from a single goroutine.
	StatusReporter = domain.StatusReporter

	// FrameReader yields sampled frames until io.EOF.
	FrameReader = domain.FrameReader

	Request       = domain.Request
	RequestState  = domain.RequestState
	Event         = domain.Event
	Progress      = domain.Progress
	Payload       = domain.Payload
	FetchedAsset  = domain.FetchedAsset
	VideoInfo     = domain.VideoInfo
	SampleRequest = domain.SampleRequest

	// PipelineError carries the failure class of a request or a segment.
	PipelineError = domain.PipelineError
	ErrorKind     = domain.ErrorKind
)

const (
	StateAdmitted   = domain.StateAdmitted
	StateFetching   = domain.StateFetching
	StateSegmenting = domain.StateSegmenting
	StateExtracting = domain.StateExtracting
	StateAssembling = domain.StateAssembling
	StateDelivering = domain.StateDelivering
	StateCompleted  = domain.StateCompleted
	StateFailed     = domain.StateFailed

	EventState    = domain.EventState
	EventProgress = domain.EventProgress
	EventSegment  = domain.EventSegment
	EventNote     = domain.EventNote
	EventFinished = domain.EventFinished
)

var (
	ErrAcquisitionDenied = domain.ErrAcquisitionDenied
	ErrServerFull        = domain.ErrServerFull
	ErrRequesterLimit    = domain.ErrRequesterLimit
	ErrSourceUnavailable = domain.ErrSourceUnavailable
	ErrPolicyViolation   = domain.ErrPolicyViolation
	ErrSegmentEmpty      = domain.ErrSegmentEmpty
	ErrDeliveryFailed    = domain.ErrDeliveryFailed
	ErrInternal          = domain.ErrInternal

	ErrTransient       = domain.ErrTransient
	ErrPayloadTooLarge = domain.ErrPayloadTooLarge
	ErrPermanent       = domain.ErrPermanent

	// ErrNotStarted is returned by Process and Submit before Start or after Stop.
	ErrNotStarted = errors.New("controller not started")
)

const (
	KindAcquisitionDenied = domain.KindAcquisitionDenied
	KindSourceUnavailable = domain.KindSourceUnavailable
	KindPolicyViolation   = domain.KindPolicyViolation
	KindSegmentEmpty      = domain.KindSegmentEmpty
	KindDeliveryFailure   = domain.KindDeliveryFailure
	KindInternalFailure   = domain.KindInternalFailure
)

// KindOf returns the failure class carried by err, or "" when err is not a
// pipeline error.
func KindOf(err error) ErrorKind {
	return domain.KindOf(err)
}

// Options configures the Controller behavior and dependencies.
type Options struct {
	// Fetcher is required.
	Fetcher MediaFetcher

	// Prober is required.
	Prober Prober

	// Deliverer is required.
	Deliverer Deliverer

	// Sampler decodes frames. Default: an ffmpeg process per window.
	Sampler FrameSampler

	// Notifier, when set, receives a copy of everything delivered.
	Notifier Notifier

	// Reporter, when set, receives every request event. Events are logged at
	// debug level otherwise.
	Reporter StatusReporter

	Logger  *logrus.Entry
	Metrics *metrics.Metrics

	// FFmpegBinary is used by the default sampler. Default: "ffmpeg".
	FFmpegBinary string

	// HWAccel selects decode acceleration for the default sampler: "" or
	// "none" for software, "auto" to detect, or an accelerator name.
	HWAccel string

	// Window is the length of the time window covered by one document.
	// Default: 30 minutes.
	Window time.Duration

	// SampleStride is the number of native frames between two samples.
	// Default: 60.
	SampleStride int

	// Threshold is the similarity below which a sample counts as new
	// content, in [-1, 1]. Nil means 0.8.
	Threshold *float64

	// FlushTail commits the last pending slide of each window.
	FlushTail bool

	// RenderWidth is the width frames are decoded at, never upscaled.
	// Default: 1280.
	RenderWidth int

	// MaxPages caps pages per document. Default: 5000.
	MaxPages int

	// Branding is printed next to every page timestamp.
	// Default: "Created by @youpdf_bot".
	Branding string

	// MaxTotal is the global number of requests in flight. Default: 10.
	MaxTotal int

	// MaxPerRequester is the number of requests one requester may have in
	// flight. Default: 1.
	MaxPerRequester int

	// TierCeilings maps a privilege tier to the longest video it may submit.
	// Default: standard 90 minutes, premium 4 hours.
	TierCeilings map[string]time.Duration

	// DefaultTier is used for requests with an empty or unknown tier.
	// Default: "standard".
	DefaultTier string

	// WorkerCount is the size of the extraction pool. Default: number of CPUs.
	WorkerCount int

	// DeliveryRetries is the number of retries after a failed delivery.
	// Default: 5. Negative disables retries.
	DeliveryRetries int

	// DeliveryInterval is the wait between delivery attempts. Default: 2s.
	DeliveryInterval time.Duration

	// ScratchDir holds per-request frame images. Default: $TMPDIR/slidepdf.
	ScratchDir string

	// MinFreeBytes rejects requests when the scratch filesystem has less free
	// space. Zero disables the check.
	MinFreeBytes uint64

	// EventBacklog is the capacity of the status event queue. Default: 64.
	EventBacklog int
}

func (o *Options) setDefaults() {
	if o.Window == 0 {
		o.Window = 30 * time.Minute
	}
	if o.SampleStride == 0 {
		o.SampleStride = 60
	}
	if o.Threshold == nil {
		threshold := 0.8
		o.Threshold = &threshold
	}
	if o.RenderWidth == 0 {
		o.RenderWidth = ffmpeg.DefaultRenderWidth
	}
	if o.MaxPages == 0 {
		o.MaxPages = 5000
	}
	if o.Branding == "" {
		o.Branding = document.DefaultBranding
	}
	if o.MaxTotal == 0 {
		o.MaxTotal = 10
	}
	if o.MaxPerRequester == 0 {
		o.MaxPerRequester = 1
	}
	if len(o.TierCeilings) == 0 {
		o.TierCeilings = map[string]time.Duration{
			"standard": 90 * time.Minute,
			"premium":  4 * time.Hour,
		}
	}
	if o.DefaultTier == "" {
		o.DefaultTier = "standard"
	}
	if o.WorkerCount == 0 {
		o.WorkerCount = runtime.NumCPU()
	}
	if o.DeliveryRetries == 0 {
		o.DeliveryRetries = delivery.DefaultMaxRetries
	}
	if o.DeliveryInterval == 0 {
		o.DeliveryInterval = delivery.DefaultInterval
	}
	if o.EventBacklog == 0 {
		o.EventBacklog = events.DefaultCapacity
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
}

func (o *Options) validate() {
	if o.Fetcher == nil {
		panic("slidepdf: Fetcher is required")
	}
	if o.Prober == nil {
		panic("slidepdf: Prober is required")
	}
	if o.Deliverer == nil {
		panic("slidepdf: Deliverer is required")
	}
}

// Controller runs requests from admission to delivery.
//
// A Controller must be started with Start before processing requests, and
// stopped with Stop, which waits for submitted requests to finish.
type Controller struct {
	opts Options
	log  *logrus.Entry

	admission *admission.Controller
	pool      *workerpool.Pool
	bus       *events.Bus
	scratch   *scratch.Manager
	sampler   FrameSampler
	dedupe    *dedupe.Deduplicator
	assembler *document.Assembler
	mirror    *delivery.Mirror
	delivery  *delivery.Retrier
	metrics   *metrics.Metrics

	mu       sync.Mutex
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopping bool
	inflight sync.WaitGroup
}

// NewController creates a Controller with the given options.
// It panics if a required collaborator (Fetcher, Prober, Deliverer) is nil,
// and fails if the scratch directory cannot be created.
func NewController(opts Options) (*Controller, error) {
	opts.validate()
	opts.setDefaults()

	log := opts.Logger

	scratchMgr, err := scratch.NewManager(opts.ScratchDir, opts.MinFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}

	frameSampler := opts.Sampler
	if frameSampler == nil {
		hwConfig := hwaccel.Parse(context.Background(), opts.HWAccel)
		log.WithField("accelerator", hwConfig.Accelerator).Debug("decode acceleration selected")
		frameSampler = sampler.New(opts.FFmpegBinary, ffmpeg.NewCommandBuilder(hwConfig), log)
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter = logReporter{log: log}
	}

	mirror := delivery.NewMirror(opts.Deliverer, opts.Notifier, log)
	retrier := delivery.NewRetrier(mirror, delivery.Options{
		Interval:   opts.DeliveryInterval,
		MaxRetries: max(opts.DeliveryRetries, 0),
		OnAttempt:  opts.Metrics.DeliveryAttempt,
	}, log)

	return &Controller{
		opts:      opts,
		log:       log,
		admission: admission.NewController(opts.MaxTotal, opts.MaxPerRequester, opts.Metrics),
		pool:      workerpool.New(opts.WorkerCount),
		bus:       events.NewBus(reporter, opts.EventBacklog, log),
		scratch:   scratchMgr,
		sampler:   frameSampler,
		dedupe:    dedupe.New(log),
		assembler: document.New(document.Options{Branding: opts.Branding, MaxPages: opts.MaxPages}, log),
		mirror:    mirror,
		delivery:  retrier,
		metrics:   opts.Metrics,
	}, nil
}

// Start launches the extraction pool and the status event consumer. The
// provided context bounds requests accepted through Submit.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.baseCtx != nil {
		return errors.New("controller already started")
	}

	if err := c.pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	c.baseCtx, c.cancel = context.WithCancel(ctx)
	go c.bus.Run(context.WithoutCancel(ctx))
	return nil
}

// Stop waits for in-flight requests, then shuts down the pool and drains
// pending events. Requests arriving after Stop is called are refused with
// ErrNotStarted.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopping = true
	cancel := c.cancel
	c.mu.Unlock()

	c.inflight.Wait()

	if cancel != nil {
		cancel()
	}
	c.pool.Stop()
	c.bus.Close()
	c.metrics.SetEventsDropped(c.bus.Dropped())
}

// Shutdown cancels in-flight requests at their next segment boundary and
// then stops the controller.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.Stop()
}

// Process runs req to completion on the calling goroutine. Request-fatal
// failures are returned as *PipelineError; per-segment failures are recorded
// in the Result.
func (c *Controller) Process(ctx context.Context, req Request) (*Result, error) {
	if _, err := c.enter(); err != nil {
		return nil, err
	}
	defer c.inflight.Done()

	req = c.prepare(req)
	if err := c.acquire(ctx, req); err != nil {
		return nil, err
	}
	return c.run(ctx, req)
}

// Submit admits req and processes it in the background. A denial is
// returned at once; otherwise the request id is returned and the outcome is
// reported through events and the Deliverer.
func (c *Controller) Submit(ctx context.Context, req Request) (string, error) {
	baseCtx, err := c.enter()
	if err != nil {
		return "", err
	}

	req = c.prepare(req)
	if err := c.acquire(ctx, req); err != nil {
		c.inflight.Done()
		return "", err
	}

	go func() {
		defer c.inflight.Done()
		if _, err := c.run(baseCtx, req); err != nil {
			c.requestLog(req).WithError(err).Warn("request failed")
		}
	}()

	return req.ID, nil
}

// enter registers an in-flight request. The caller must call
// c.inflight.Done when it returns without error.
func (c *Controller) enter() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.baseCtx == nil || c.stopping || c.baseCtx.Err() != nil {
		return nil, ErrNotStarted
	}
	c.inflight.Add(1)
	return c.baseCtx, nil
}

// Metrics exposes the controller's collectors.
func (c *Controller) Metrics() *metrics.Metrics {
	return c.metrics
}

// Active returns the number of admitted requests per requester.
func (c *Controller) Active() (int, map[string]int) {
	return c.admission.Snapshot()
}

// EventsDropped reports how many progress events were discarded because the
// status queue was full.
func (c *Controller) EventsDropped() int64 {
	return c.bus.Dropped()
}

func (c *Controller) prepare(req Request) Request {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if _, ok := c.opts.TierCeilings[req.Tier]; !ok {
		req.Tier = c.opts.DefaultTier
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	return req
}

func (c *Controller) acquire(ctx context.Context, req Request) error {
	if err := c.admission.TryAcquire(req.RequesterID); err != nil {
		c.metrics.RequestFinished(domain.NewError(domain.KindAcquisitionDenied, -1, err))
		return domain.NewError(domain.KindAcquisitionDenied, -1, err)
	}

	c.publish(ctx, domain.Event{
		Kind:        domain.EventState,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		State:       StateAdmitted,
	})
	return nil
}

func (c *Controller) publish(ctx context.Context, ev domain.Event) {
	c.bus.Publish(ctx, ev)
}

func (c *Controller) requestLog(req Request) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"requester_id": req.RequesterID,
	})
}

type logReporter struct {
	log *logrus.Entry
}

func (r logReporter) Report(ctx context.Context, ev domain.Event) {
	entry := r.log.WithFields(logrus.Fields{
		"request_id": ev.RequestID,
		"kind":       ev.Kind,
		"state":      ev.State,
	})
	if ev.Kind == domain.EventSegment || ev.Kind == domain.EventNote {
		entry = entry.WithField("segment", ev.Segment)
	}
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	entry.Debug(ev.Message)
}

package slidepdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eleven-am/slidepdf/internal/dedupe"
	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/scratch"
	"github.com/eleven-am/slidepdf/internal/segment"
	"github.com/eleven-am/slidepdf/internal/workerpool"

	"github.com/sirupsen/logrus"
)

// SegmentResult is the outcome of one time window.
type SegmentResult struct {
	Index     int
	Start     float64
	End       float64
	Name      string
	Frames    int
	Pages     int
	Truncated bool
	Attempts  int
	// Err is nil for a delivered document and otherwise wraps ErrSegmentEmpty
	// or ErrDeliveryFailed.
	Err error
}

// Delivered reports whether the segment's document reached the requester.
func (s SegmentResult) Delivered() bool {
	return s.Err == nil && s.Pages > 0
}

// Result summarizes a finished request.
type Result struct {
	RequestID string
	Title     string
	Duration  float64
	FrameRate float64
	Segments  []SegmentResult
	Elapsed   time.Duration
}

func (r *Result) TotalPages() int {
	total := 0
	for _, s := range r.Segments {
		if s.Delivered() {
			total += s.Pages
		}
	}
	return total
}

// Counts returns how many segments were delivered, skipped as empty and
// failed delivery.
func (r *Result) Counts() (delivered, empty, failed int) {
	for _, s := range r.Segments {
		switch {
		case s.Delivered():
			delivered++
		case errors.Is(s.Err, ErrSegmentEmpty):
			empty++
		default:
			failed++
		}
	}
	return delivered, empty, failed
}

type segmentOutput struct {
	doc    *domain.Document
	frames int
}

// run executes an admitted request. The admission slot is released exactly
// once on every path.
func (c *Controller) run(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()
	log := c.requestLog(req)
	res = &Result{RequestID: req.ID}

	area, err := c.scratch.Open(req.ID)
	if err != nil {
		err = domain.NewError(domain.KindInternalFailure, -1, err)
		c.finish(ctx, req, res, started, err)
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("request panicked")
			err = recovered(r)
		}
		if cerr := area.Close(); cerr != nil {
			log.WithError(cerr).Warn("scratch cleanup failed")
		}
		c.finish(ctx, req, res, started, err)
	}()

	c.mirror.NotifyText(ctx, intakeText(req))

	c.transition(ctx, req, StateFetching, "")
	if err := c.scratch.Check(ctx); err != nil {
		return res, domain.NewError(domain.KindInternalFailure, -1, err)
	}

	duration, err := c.opts.Fetcher.FetchDuration(ctx, req.Source)
	if err != nil {
		return res, domain.NewError(domain.KindSourceUnavailable, -1, fmt.Errorf("fetch duration: %w", err))
	}
	if duration <= 0 {
		return res, domain.NewError(domain.KindSourceUnavailable, -1, errors.New("source reports zero duration"))
	}
	if err := c.checkCeiling(req, duration); err != nil {
		return res, err
	}

	asset, err := c.fetch(ctx, req)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := os.Remove(asset.Path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.WithError(rerr).Warn("asset cleanup failed")
		}
	}()

	res.Title = asset.Title
	res.Duration = asset.Duration
	res.FrameRate = asset.FrameRate

	if err := c.checkCeiling(req, asset.Duration); err != nil {
		return res, err
	}

	segments := segment.Calculate(asset.Duration, c.opts.Window.Seconds())
	c.transition(ctx, req, StateSegmenting, fmt.Sprintf("%d parts", len(segments)))
	log.WithFields(logrus.Fields{
		"title":    asset.Title,
		"duration": asset.Duration,
		"fps":      asset.FrameRate,
		"segments": len(segments),
	}).Info("processing request")

	for _, seg := range segments {
		if cerr := ctx.Err(); cerr != nil {
			return res, domain.NewError(domain.KindInternalFailure, seg.Index, fmt.Errorf("cancelled: %w", cerr))
		}

		sr, err := c.processSegment(ctx, req, area, asset, seg, len(segments))
		res.Segments = append(res.Segments, sr)
		if err != nil {
			return res, err
		}
	}

	return res, nil
}

// fetch downloads the asset and reads its stream properties. The asset file
// is removed here when probing fails.
func (c *Controller) fetch(ctx context.Context, req Request) (*domain.MediaAsset, error) {
	fetched, err := c.opts.Fetcher.FetchAsset(ctx, req.Source, func(p domain.Progress) {
		c.publish(ctx, domain.Event{
			Kind:        domain.EventProgress,
			RequestID:   req.ID,
			RequesterID: req.RequesterID,
			State:       StateFetching,
			Progress:    &p,
		})
	})
	if err != nil {
		return nil, domain.NewError(domain.KindSourceUnavailable, -1, fmt.Errorf("fetch asset: %w", err))
	}

	info, err := c.opts.Prober.Probe(ctx, fetched.Path)
	if err != nil {
		_ = os.Remove(fetched.Path)
		return nil, domain.NewError(domain.KindSourceUnavailable, -1, fmt.Errorf("probe: %w", err))
	}

	asset := &domain.MediaAsset{
		Title:     fetched.Title,
		Path:      fetched.Path,
		FrameRate: info.FrameRate,
		Duration:  info.Duration,
		Width:     info.Width,
		Height:    info.Height,
	}
	if asset.Duration <= 0 {
		asset.Duration = fetched.Duration
	}
	if asset.Duration <= 0 {
		_ = os.Remove(fetched.Path)
		return nil, domain.NewError(domain.KindSourceUnavailable, -1, errors.New("asset has zero duration"))
	}
	return asset, nil
}

func (c *Controller) checkCeiling(req Request, duration float64) error {
	ceiling := c.opts.TierCeilings[req.Tier]
	if duration > ceiling.Seconds() {
		return domain.NewError(domain.KindPolicyViolation, -1,
			fmt.Errorf("duration %s exceeds %s limit of %s", FormatDuration(duration), req.Tier, FormatDuration(ceiling.Seconds())))
	}
	return nil
}

// processSegment extracts, assembles and delivers one window. Only
// request-fatal failures are returned; empty and undeliverable windows are
// recorded in the SegmentResult.
func (c *Controller) processSegment(ctx context.Context, req Request, area *scratch.Area, asset *domain.MediaAsset, seg domain.Segment, total int) (SegmentResult, error) {
	started := time.Now()
	sr := SegmentResult{Index: seg.Index, Start: seg.Start, End: seg.End}
	log := c.requestLog(req).WithField("segment", seg.Index)

	c.segmentEvent(ctx, req, seg.Index, total, StateExtracting, "")

	out, err := workerpool.Run(ctx, c.pool, func(_ context.Context) (segmentOutput, error) {
		// In-flight extraction runs to completion; cancellation is honoured
		// at the next segment boundary.
		return c.extract(context.WithoutCancel(ctx), req, area, asset, seg, total)
	})
	if err != nil {
		c.metrics.SegmentFinished("failed", time.Since(started))
		return sr, domain.NewError(domain.KindInternalFailure, seg.Index, err)
	}

	sr.Frames = out.frames
	sr.Pages = out.doc.PageCount()
	sr.Truncated = out.doc.Truncated

	if out.doc.Empty() || len(out.doc.Data) == 0 {
		sr.Pages = 0
		sr.Err = domain.NewError(domain.KindSegmentEmpty, seg.Index, errors.New("no distinct frames"))
		log.Info("segment empty, skipped")
		c.note(ctx, req, seg.Index, total, fmt.Sprintf("Part %d: no distinct frames found", seg.Index+1))
		c.metrics.SegmentFinished("empty", time.Since(started))
		return sr, nil
	}

	if sr.Truncated {
		c.note(ctx, req, seg.Index, total,
			fmt.Sprintf("Part %d: page limit of %d reached, later frames were dropped", seg.Index+1, c.opts.MaxPages))
	}

	c.segmentEvent(ctx, req, seg.Index, total, StateDelivering, "")

	sr.Name = PartFilename(asset.Title, seg.Index+1, total)
	attempts, err := c.delivery.Deliver(ctx, req.RequesterID, domain.Payload{
		Data:    out.doc.Data,
		Name:    sr.Name,
		Caption: partCaption(asset.Title, seg, total, sr.Pages, sr.Frames),
	})
	sr.Attempts = attempts
	if err != nil {
		sr.Err = domain.NewError(domain.KindDeliveryFailure, seg.Index, err)
		log.WithError(err).WithField("attempts", attempts).Warn("segment delivery failed")
		c.metrics.SegmentFinished("delivery_failed", time.Since(started))
		return sr, nil
	}

	log.WithFields(logrus.Fields{
		"pages":    sr.Pages,
		"attempts": attempts,
	}).Info("segment delivered")
	c.metrics.SegmentFinished("delivered", time.Since(started))
	return sr, nil
}

// extract runs on the worker pool. The segment's scratch images are removed
// once the document is rendered.
func (c *Controller) extract(ctx context.Context, req Request, area *scratch.Area, asset *domain.MediaAsset, seg domain.Segment, total int) (segmentOutput, error) {
	dir, err := area.Segment(seg.Index)
	if err != nil {
		return segmentOutput{}, err
	}
	defer func() {
		if rerr := area.RemoveSegment(seg.Index); rerr != nil {
			c.requestLog(req).WithError(rerr).Warn("segment scratch cleanup failed")
		}
	}()

	reader, err := c.sampler.Open(ctx, domain.SampleRequest{
		Path:         asset.Path,
		Start:        seg.Start,
		End:          seg.End,
		Stride:       c.opts.SampleStride,
		RenderWidth:  c.opts.RenderWidth,
		SourceWidth:  asset.Width,
		SourceHeight: asset.Height,
	})
	if err != nil {
		return segmentOutput{}, fmt.Errorf("open sampler: %w", err)
	}

	frames, err := c.dedupe.Dedupe(reader, seg, dedupe.Params{
		FrameRate:  asset.FrameRate,
		Stride:     c.opts.SampleStride,
		Threshold:  *c.opts.Threshold,
		ScratchDir: dir,
		FlushTail:  c.opts.FlushTail,
	})
	if cerr := reader.Close(); cerr != nil {
		c.requestLog(req).WithError(cerr).Debug("sampler close")
	}
	if err != nil {
		return segmentOutput{}, fmt.Errorf("dedupe: %w", err)
	}

	c.segmentEvent(ctx, req, seg.Index, total, StateAssembling, fmt.Sprintf("%d frames", len(frames)))

	doc, err := c.assembler.Assemble(seg.Index, frames)
	if err != nil {
		return segmentOutput{}, fmt.Errorf("assemble: %w", err)
	}
	return segmentOutput{doc: doc, frames: len(frames)}, nil
}

// finish publishes the terminal state, informs the requester and releases the
// admission slot.
func (c *Controller) finish(ctx context.Context, req Request, res *Result, started time.Time, err error) {
	res.Elapsed = time.Since(started)
	log := c.requestLog(req)

	state := StateCompleted
	text := summaryText(res)
	if err != nil {
		state = StateFailed
		text = failureText(err)
	}

	// The requester is told even when the request context is gone.
	notifyCtx := context.WithoutCancel(ctx)
	if serr := c.sendSummary(notifyCtx, req, text); serr != nil {
		log.WithError(serr).Warn("summary not delivered")
	}

	c.admission.Release(req.RequesterID)

	c.publish(notifyCtx, domain.Event{
		Kind:        domain.EventFinished,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		State:       state,
		Message:     text,
		Err:         err,
	})
	c.metrics.RequestFinished(err)
	c.metrics.SetEventsDropped(c.bus.Dropped())

	delivered, empty, failed := res.Counts()
	entry := log.WithFields(logrus.Fields{
		"delivered": delivered,
		"empty":     empty,
		"failed":    failed,
		"elapsed":   res.Elapsed.String(),
	})
	if err != nil {
		entry.WithError(err).Warn("request failed")
		return
	}
	entry.Info("request completed")
}

func (c *Controller) sendSummary(ctx context.Context, req Request, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	_, err = c.delivery.SendText(ctx, req.RequesterID, text)
	return err
}

// recovered turns a panic value into an InternalFailure.
func recovered(r any) error {
	return domain.NewError(domain.KindInternalFailure, -1, fmt.Errorf("%w: %v", workerpool.ErrTaskPanic, r))
}

func (c *Controller) transition(ctx context.Context, req Request, state RequestState, msg string) {
	c.publish(ctx, domain.Event{
		Kind:        domain.EventState,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		State:       state,
		Message:     msg,
	})
}

func (c *Controller) segmentEvent(ctx context.Context, req Request, index, total int, state RequestState, msg string) {
	c.publish(ctx, domain.Event{
		Kind:        domain.EventSegment,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		State:       state,
		Segment:     index,
		Total:       total,
		Message:     msg,
	})
}

func (c *Controller) note(ctx context.Context, req Request, index, total int, msg string) {
	c.publish(ctx, domain.Event{
		Kind:        domain.EventNote,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Segment:     index,
		Total:       total,
		Message:     msg,
	})
}

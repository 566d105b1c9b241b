package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval   = 2 * time.Second
	DefaultMaxRetries = 5
)

type Options struct {
	Interval   time.Duration
	MaxRetries int
	// OnAttempt is called after every attempt with its outcome.
	OnAttempt func(err error)
}

// Retrier retries deliveries that fail with ErrTransient or ErrPayloadTooLarge
// at a constant interval. Any other error is final.
type Retrier struct {
	next domain.Deliverer
	opts Options
	log  *logrus.Entry
}

func NewRetrier(next domain.Deliverer, opts Options, log *logrus.Entry) *Retrier {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retrier{next: next, opts: opts, log: log}
}

// Deliver hands p to the underlying deliverer. It returns the number of
// attempts made and, when every attempt failed, an error wrapping
// ErrDeliveryFailed and the last failure.
func (r *Retrier) Deliver(ctx context.Context, requesterID string, p domain.Payload) (int, error) {
	return r.retry(ctx, "document "+p.Name, func() error {
		return r.next.Deliver(ctx, requesterID, p)
	})
}

func (r *Retrier) SendText(ctx context.Context, requesterID string, text string) (int, error) {
	return r.retry(ctx, "text", func() error {
		return r.next.SendText(ctx, requesterID, text)
	})
}

func (r *Retrier) retry(ctx context.Context, what string, attempt func() error) (int, error) {
	var attempts int

	op := func() error {
		attempts++
		err := attempt()
		if r.opts.OnAttempt != nil {
			r.opts.OnAttempt(err)
		}
		if err == nil {
			return nil
		}
		if Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.Interval), uint64(r.opts.MaxRetries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"wait":    wait,
		}).Warnf("deliver %s failed, retrying", what)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return attempts, fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrDeliveryFailed, what, attempts, err)
	}
	return attempts, nil
}

func Retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrPayloadTooLarge)
}

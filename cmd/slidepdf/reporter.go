package main

import (
	"context"

	"github.com/eleven-am/slidepdf"

	"github.com/sirupsen/logrus"
)

// noteReporter logs request events and forwards status notes to the
// requester. It runs on the controller's single event consumer.
type noteReporter struct {
	deliverer slidepdf.Deliverer
	log       *logrus.Entry
}

func (r *noteReporter) Report(ctx context.Context, ev slidepdf.Event) {
	entry := r.log.WithFields(logrus.Fields{
		"request_id":   ev.RequestID,
		"requester_id": ev.RequesterID,
		"state":        ev.State,
	})

	switch ev.Kind {
	case slidepdf.EventProgress:
		if ev.Progress != nil {
			entry.WithFields(logrus.Fields{
				"percent": ev.Progress.Percent,
				"rate":    ev.Progress.Rate,
			}).Debug("download progress")
		}
	case slidepdf.EventSegment:
		entry.WithFields(logrus.Fields{
			"segment": ev.Segment,
			"total":   ev.Total,
		}).Debug("segment phase")
	case slidepdf.EventNote:
		entry.WithField("segment", ev.Segment).Info(ev.Message)
		if err := r.deliverer.SendText(ctx, ev.RequesterID, ev.Message); err != nil {
			entry.WithError(err).Warn("status note not delivered")
		}
	default:
		entry.Debug("state changed")
	}
}

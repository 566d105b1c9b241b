package delivery

import (
	"context"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/sirupsen/logrus"
)

// Mirror forwards everything the primary deliverer accepts to a secondary
// notification channel. Channel failures are logged and never surface.
type Mirror struct {
	primary  domain.Deliverer
	notifier domain.Notifier
	log      *logrus.Entry
}

func NewMirror(primary domain.Deliverer, notifier domain.Notifier, log *logrus.Entry) *Mirror {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Mirror{primary: primary, notifier: notifier, log: log}
}

func (m *Mirror) Deliver(ctx context.Context, requesterID string, p domain.Payload) error {
	if err := m.primary.Deliver(ctx, requesterID, p); err != nil {
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyDocument(ctx, p); err != nil {
			m.log.WithError(err).WithField("name", p.Name).Debug("mirror document failed")
		}
	}
	return nil
}

func (m *Mirror) SendText(ctx context.Context, requesterID string, text string) error {
	if err := m.primary.SendText(ctx, requesterID, text); err != nil {
		return err
	}

	m.NotifyText(ctx, text)
	return nil
}

// NotifyText posts to the channel only.
func (m *Mirror) NotifyText(ctx context.Context, text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyText(ctx, text); err != nil {
		m.log.WithError(err).Debug("mirror text failed")
	}
}

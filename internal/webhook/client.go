package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 2 * time.Minute

// Client posts documents and text to an HTTP endpoint as multipart forms. It
// serves both as the requester deliverer and as the notification channel.
type Client struct {
	url  string
	http *http.Client
	log  *logrus.Entry
}

func New(url string, timeout time.Duration, log *logrus.Entry) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *Client) Deliver(ctx context.Context, requesterID string, p domain.Payload) error {
	return c.post(ctx, map[string]string{
		"kind":         "document",
		"requester_id": requesterID,
		"caption":      p.Caption,
	}, &p)
}

func (c *Client) SendText(ctx context.Context, requesterID string, text string) error {
	return c.post(ctx, map[string]string{
		"kind":         "text",
		"requester_id": requesterID,
		"text":         text,
	}, nil)
}

func (c *Client) NotifyText(ctx context.Context, text string) error {
	return c.post(ctx, map[string]string{
		"kind": "text",
		"text": text,
	}, nil)
}

func (c *Client) NotifyDocument(ctx context.Context, p domain.Payload) error {
	return c.post(ctx, map[string]string{
		"kind":    "document",
		"caption": p.Caption,
	}, &p)
}

func (c *Client) post(ctx context.Context, fields map[string]string, file *domain.Payload) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if file != nil {
		part, err := w.CreateFormFile("document", file.Name)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrPermanent, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err := classify(resp.StatusCode); err != nil {
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(snippet),
		}).Debug("webhook rejected post")
		return fmt.Errorf("post %s: status %d: %w", c.url, resp.StatusCode, err)
	}
	return nil
}

// classify maps a status code to a delivery error class.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestEntityTooLarge:
		return domain.ErrPayloadTooLarge
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return domain.ErrTransient
	default:
		return domain.ErrPermanent
	}
}

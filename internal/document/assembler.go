package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBranding = "Created by @youpdf_bot"

	captionX        = 5.0
	captionY        = 5.0
	captionFont     = "Arial"
	captionFontSize = 18.0
)

type Options struct {
	Branding string
	// MaxPages caps a document; 0 means unlimited.
	MaxPages int
}

// Assembler renders accepted frames into a landscape A4 document, one frame
// per page, scaled to fit and centered, captioned with its timestamp.
type Assembler struct {
	opts Options
	log  *logrus.Entry
}

func New(opts Options, log *logrus.Entry) *Assembler {
	if opts.Branding == "" {
		opts.Branding = DefaultBranding
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Assembler{opts: opts, log: log}
}

// Assemble builds the document for one segment. Frames whose image is missing
// or unreadable are skipped. When no page remains the returned document has no
// data.
func (a *Assembler) Assemble(segmentIndex int, frames []domain.AcceptedFrame) (*domain.Document, error) {
	doc := &domain.Document{SegmentIndex: segmentIndex}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator(a.opts.Branding, true)

	for _, f := range frames {
		if _, err := os.Stat(f.ImagePath); err != nil {
			a.log.WithField("path", f.ImagePath).Debug("frame image missing, page skipped")
			continue
		}

		opts := fpdf.ImageOptions{ImageType: imageType(f.ImagePath)}
		info := pdf.RegisterImageOptions(f.ImagePath, opts)
		if pdf.Err() {
			a.log.WithError(pdf.Error()).WithField("path", f.ImagePath).Warn("frame image unreadable, page skipped")
			pdf.ClearError()
			continue
		}

		// Only a frame that would have rendered counts against the cap.
		if a.opts.MaxPages > 0 && len(doc.Pages) >= a.opts.MaxPages {
			doc.Truncated = true
			break
		}

		pdf.AddPage()
		pageW, pageH := pdf.GetPageSize()
		x, y, w, h := fit(info.Width(), info.Height(), pageW, pageH)
		pdf.ImageOptions(f.ImagePath, x, y, w, h, false, opts, 0, "")

		caption := Caption(f.Timestamp, a.opts.Branding)
		pdf.SetXY(captionX, captionY)
		pdf.SetFont(captionFont, "", captionFontSize)
		pdf.Cell(0, 0, caption)

		doc.Pages = append(doc.Pages, domain.Page{
			FrameNumber: f.FrameNumber,
			Timestamp:   f.Timestamp,
			Caption:     caption,
		})
	}

	if len(doc.Pages) == 0 {
		return doc, nil
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render document for segment %d: %w", segmentIndex, err)
	}
	doc.Data = buf.Bytes()

	return doc, nil
}

// Caption formats a page caption as HH:MM:SS - branding, flooring to whole
// seconds.
func Caption(timestamp float64, branding string) string {
	return fmt.Sprintf("%s - %s", Clock(timestamp), branding)
}

func Clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// fit scales an image of w x h to the page preserving aspect ratio and
// centers it.
func fit(w, h, pageW, pageH float64) (x, y, outW, outH float64) {
	if w <= 0 || h <= 0 {
		return 0, 0, pageW, pageH
	}
	aspect := w / h
	outW = pageW
	outH = pageW / aspect
	if outH > pageH {
		outH = pageH
		outW = pageH * aspect
	}
	return (pageW - outW) / 2, (pageH - outH) / 2, outW, outH
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "JPG"
	case ".gif":
		return "GIF"
	default:
		return "PNG"
	}
}

package slidepdf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"
	"github.com/eleven-am/slidepdf/internal/fetch"
)

const maxTitleLength = 50

// FormatDuration renders seconds as "45s", "3m 2s" or "1h 5m".
func FormatDuration(seconds float64) string {
	s := int(seconds)
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
	}
}

// PartFilename names the document of part n (one-based) out of total.
func PartFilename(title string, part, total int) string {
	safe := fetch.SanitizeTitle(title)
	if r := []rune(safe); len(r) > maxTitleLength {
		safe = strings.TrimRight(string(r[:maxTitleLength]), " ")
	}
	if safe == "" {
		safe = "video"
	}
	return fmt.Sprintf("%s_Part%d_of_%d.pdf", safe, part, total)
}

func partCaption(title string, seg domain.Segment, total, pages, frames int) string {
	return fmt.Sprintf("Part %d/%d complete\n\nTitle: %s\nPages: %d\nTime range: %s - %s\nFrames: %d",
		seg.Index+1, total, title, pages, FormatDuration(seg.Start), FormatDuration(seg.End), frames)
}

func summaryText(res *Result) string {
	delivered, empty, failed := res.Counts()
	return fmt.Sprintf("All parts complete\n\nTitle: %s\nTotal pages: %d\nTotal parts: %d\nDelivered: %d, empty: %d, failed: %d\nProcessing time: %s",
		res.Title, res.TotalPages(), len(res.Segments), delivered, empty, failed, FormatDuration(res.Elapsed.Seconds()))
}

func failureText(err error) string {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case domain.KindSourceUnavailable:
			return fmt.Sprintf("Could not get the video: %v", pe.Err)
		case domain.KindPolicyViolation:
			return fmt.Sprintf("Video too long: %v", pe.Err)
		}
	}
	return fmt.Sprintf("Error during processing: %v", err)
}

func intakeText(req Request) string {
	name := req.RequesterName
	if name == "" {
		name = req.RequesterID
	}
	return fmt.Sprintf("New request\n\nUser: %s\nID: %s\nTier: %s\nURL: %s", name, req.RequesterID, req.Tier, req.Source)
}

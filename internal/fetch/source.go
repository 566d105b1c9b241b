package fetch

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"
)

var ErrInvalidSource = errors.New("invalid source")

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)

// VideoID extracts the 11 character video id from a watch or short URL.
func VideoID(source string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(source)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SanitizeTitle keeps letters, digits, spaces, dashes and underscores.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Router sends local paths and file:// URLs to the local fetcher and
// everything else to the remote one.
type Router struct {
	Local  domain.MediaFetcher
	Remote domain.MediaFetcher
}

func (r *Router) FetchDuration(ctx context.Context, source string) (float64, error) {
	return r.pick(source).FetchDuration(ctx, source)
}

func (r *Router) FetchAsset(ctx context.Context, source string, onProgress func(domain.Progress)) (*domain.FetchedAsset, error) {
	return r.pick(source).FetchAsset(ctx, source, onProgress)
}

// Validate reports whether source can be handled at all.
func (r *Router) Validate(source string) error {
	if isLocal(source) {
		if r.Local == nil {
			return ErrInvalidSource
		}
		return nil
	}
	if r.Remote == nil {
		return ErrInvalidSource
	}
	if _, ok := VideoID(source); !ok {
		return ErrInvalidSource
	}
	return nil
}

func (r *Router) pick(source string) domain.MediaFetcher {
	if isLocal(source) && r.Local != nil {
		return r.Local
	}
	return r.Remote
}

func isLocal(source string) bool {
	if strings.HasPrefix(source, "file://") {
		return true
	}
	if strings.Contains(source, "://") {
		return false
	}
	_, err := os.Stat(source)
	return err == nil
}

package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/google/uuid"
)

// Local serves files already on disk. The asset is a private copy so the
// pipeline can delete it without touching the original.
type Local struct {
	prober domain.Prober
	dir    string
}

func NewLocal(prober domain.Prober, dir string) *Local {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Local{prober: prober, dir: dir}
}

func (l *Local) FetchDuration(ctx context.Context, source string) (float64, error) {
	path := localPath(source)
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	info, err := l.prober.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

func (l *Local) FetchAsset(ctx context.Context, source string, onProgress func(domain.Progress)) (*domain.FetchedAsset, error) {
	path := localPath(source)

	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	dstPath := filepath.Join(l.dir, "local_"+uuid.NewString()+filepath.Ext(path))
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	w := &progressWriter{total: stat.Size(), onProgress: onProgress}
	_, err = io.Copy(io.MultiWriter(dst, w), &ctxReader{ctx: ctx, r: src})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("copy source: %w", err)
	}

	info, err := l.prober.Probe(ctx, dstPath)
	if err != nil {
		_ = os.Remove(dstPath)
		return nil, err
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &domain.FetchedAsset{Title: title, Path: dstPath, Duration: info.Duration}, nil
}

func localPath(source string) string {
	return strings.TrimPrefix(source, "file://")
}

type progressWriter struct {
	total      int64
	written    int64
	lastPct    int
	onProgress func(domain.Progress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.onProgress == nil || w.total <= 0 {
		return len(p), nil
	}
	pct := int(w.written * 100 / w.total)
	if pct != w.lastPct {
		w.lastPct = pct
		w.onProgress(domain.Progress{Percent: float64(pct)})
	}
	return len(p), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFormat = "best[height<=720]/best"

	progressPrefix = "progress:"
	assetPrefix    = "asset:"
)

type YTDLPOptions struct {
	Binary      string
	CookiesFile string
	Format      string
	// Dir receives downloaded files.
	Dir string
}

// YTDLP resolves and downloads remote videos by running yt-dlp.
type YTDLP struct {
	opts YTDLPOptions
	log  *logrus.Entry
}

func NewYTDLP(opts YTDLPOptions, log *logrus.Entry) *YTDLP {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &YTDLP{opts: opts, log: log}
}

type videoInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// FetchDuration resolves the duration without downloading. A source with no
// known duration yields 0.
func (y *YTDLP) FetchDuration(ctx context.Context, source string) (float64, error) {
	url, err := watchURL(source)
	if err != nil {
		return 0, err
	}

	args := append(y.baseArgs(), "--dump-single-json", "--skip-download", url)
	out, err := exec.CommandContext(ctx, y.opts.Binary, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", url, err)
	}

	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return 0, fmt.Errorf("decode video info: %w", err)
	}
	return info.Duration, nil
}

func (y *YTDLP) FetchAsset(ctx context.Context, source string, onProgress func(domain.Progress)) (*domain.FetchedAsset, error) {
	url, err := watchURL(source)
	if err != nil {
		return nil, err
	}
	id, _ := VideoID(source)

	output := filepath.Join(y.opts.Dir, "video_"+id+".%(ext)s")
	args := append(y.baseArgs(),
		"-f", y.opts.Format,
		"-o", output,
		"--retries", "5",
		"--fragment-retries", "5",
		"--progress",
		"--newline",
		"--progress-template", "download:"+progressPrefix+"%(progress._percent_str)s|%(progress._speed_str)s",
		"--print", "after_move:"+assetPrefix+"%(duration)s|%(filepath)s|%(title)s",
		url,
	)

	cmd := exec.CommandContext(ctx, y.opts.Binary, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start yt-dlp: %w", err)
	}

	type result struct {
		asset *domain.FetchedAsset
		tail  []string
	}
	done := make(chan result, 1)
	go func() {
		var res result
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case strings.HasPrefix(line, progressPrefix):
				if p, ok := parseProgress(strings.TrimPrefix(line, progressPrefix)); ok && onProgress != nil {
					onProgress(p)
				}
			case strings.HasPrefix(line, assetPrefix):
				res.asset = parseAsset(strings.TrimPrefix(line, assetPrefix))
			case line != "":
				res.tail = append(res.tail, line)
				if len(res.tail) > 5 {
					res.tail = res.tail[1:]
				}
			}
		}
		_, _ = io.Copy(io.Discard, pr)
		done <- res
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	res := <-done

	if waitErr != nil {
		if res.asset != nil {
			_ = os.Remove(res.asset.Path)
		}
		return nil, fmt.Errorf("download %s: %w: %s", url, waitErr, strings.Join(res.tail, "; "))
	}
	if res.asset == nil || res.asset.Path == "" {
		return nil, fmt.Errorf("download %s: no file reported", url)
	}
	if _, err := os.Stat(res.asset.Path); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	y.log.WithFields(logrus.Fields{
		"title":    res.asset.Title,
		"path":     res.asset.Path,
		"duration": res.asset.Duration,
	}).Info("video downloaded")

	return res.asset, nil
}

func (y *YTDLP) baseArgs() []string {
	args := []string{"--no-warnings", "--no-playlist"}
	if y.opts.CookiesFile != "" {
		args = append(args, "--cookies", y.opts.CookiesFile)
	}
	return args
}

func watchURL(source string) (string, error) {
	id, ok := VideoID(source)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return "https://www.youtube.com/watch?v=" + id, nil
}

func parseProgress(s string) (domain.Progress, bool) {
	parts := strings.SplitN(s, "|", 2)
	pct := strings.TrimSuffix(strings.TrimSpace(parts[0]), "%")
	v, err := strconv.ParseFloat(pct, 64)
	if err != nil {
		return domain.Progress{}, false
	}
	p := domain.Progress{Percent: v}
	if len(parts) == 2 {
		p.Rate = strings.TrimSpace(parts[1])
	}
	return p, true
}

func parseAsset(s string) *domain.FetchedAsset {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return nil
	}
	dur, _ := strconv.ParseFloat(parts[0], 64)
	title := parts[2]
	if title == "" || title == "NA" {
		title = "Unknown Title"
	}
	return &domain.FetchedAsset{Title: title, Path: parts[1], Duration: dur}
}

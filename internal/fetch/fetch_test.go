package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installFake(t *testing.T, name, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const fakeYTDLP = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
  if [ "$a" = "--dump-single-json" ]; then
    echo '{"title":"Lecture 1","duration":5400}'
    exit 0
  fi
done
file=$(echo "$out" | sed 's/%(ext)s/mp4/')
echo "[youtube] extracting"
echo "progress:  10.0%|1.00MiB/s"
echo "progress:  55.5%|2.00MiB/s"
echo "progress: 100.0%|2.50MiB/s"
echo "data" > "$file"
echo "asset:5400|$file|Lecture 1: Intro"
exit 0
`

func TestVideoID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?list=x&v=abcdefghijk", "abcdefghijk"},
		{"https://www.youtube.com/shorts/ABCDEFGHIJ_", "ABCDEFGHIJ_"},
	}
	for _, tc := range cases {
		got, ok := VideoID(tc.in)
		assert.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, ok := VideoID("not a url")
	assert.False(t, ok)
}

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "Lecture 1 Intro - Part_A", SanitizeTitle("Lecture 1: Intro - Part_A!! "))
	assert.Equal(t, "", SanitizeTitle("???"))
}

func TestYTDLP_FetchDuration(t *testing.T) {
	bin := installFake(t, "yt-dlp", fakeYTDLP)
	y := NewYTDLP(YTDLPOptions{Binary: bin, Dir: t.TempDir()}, nil)

	d, err := y.FetchDuration(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 5400.0, d)
}

func TestYTDLP_RejectsInvalidSource(t *testing.T) {
	y := NewYTDLP(YTDLPOptions{Binary: "/nonexistent"}, nil)

	_, err := y.FetchDuration(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = y.FetchAsset(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestYTDLP_FetchAssetReportsProgress(t *testing.T) {
	bin := installFake(t, "yt-dlp", fakeYTDLP)
	dir := t.TempDir()
	y := NewYTDLP(YTDLPOptions{Binary: bin, Dir: dir, CookiesFile: "cookies.txt"}, nil)

	var progress []domain.Progress
	asset, err := y.FetchAsset(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", func(p domain.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, "Lecture 1: Intro", asset.Title)
	assert.Equal(t, 5400.0, asset.Duration)
	assert.Equal(t, filepath.Join(dir, "video_dQw4w9WgXcQ.mp4"), asset.Path)
	assert.FileExists(t, asset.Path)

	require.Len(t, progress, 3)
	assert.Equal(t, 10.0, progress[0].Percent)
	assert.Equal(t, "2.00MiB/s", progress[1].Rate)
	assert.Equal(t, 100.0, progress[2].Percent)
}

func TestYTDLP_FetchAssetFailure(t *testing.T) {
	bin := installFake(t, "yt-dlp", "#!/bin/sh\necho 'ERROR: Video unavailable' >&2\nexit 1\n")
	y := NewYTDLP(YTDLPOptions{Binary: bin, Dir: t.TempDir()}, nil)

	_, err := y.FetchAsset(context.Background(), "https://youtu.be/dQw4w9WgXcQ", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestParseProgress(t *testing.T) {
	p, ok := parseProgress(" 42.7%|3.1MiB/s")
	require.True(t, ok)
	assert.Equal(t, 42.7, p.Percent)
	assert.Equal(t, "3.1MiB/s", p.Rate)

	_, ok = parseProgress("N/A|N/A")
	assert.False(t, ok)
}

type stubProber struct {
	info *domain.VideoInfo
	err  error
}

func (s *stubProber) Probe(ctx context.Context, path string) (*domain.VideoInfo, error) {
	return s.info, s.err
}

func TestLocal_FetchCopiesSource(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, make([]byte, 64*1024), 0o644))

	l := NewLocal(&stubProber{info: &domain.VideoInfo{Duration: 120, FrameRate: 25}}, t.TempDir())

	d, err := l.FetchDuration(context.Background(), "file://"+src)
	require.NoError(t, err)
	assert.Equal(t, 120.0, d)

	var last domain.Progress
	asset, err := l.FetchAsset(context.Background(), src, func(p domain.Progress) { last = p })
	require.NoError(t, err)

	assert.Equal(t, "talk", asset.Title)
	assert.NotEqual(t, src, asset.Path)
	assert.FileExists(t, asset.Path)
	assert.FileExists(t, src)
	assert.Equal(t, 100.0, last.Percent)
}

func TestLocal_MissingSource(t *testing.T) {
	l := NewLocal(&stubProber{}, t.TempDir())

	_, err := l.FetchDuration(context.Background(), "/does/not/exist.mp4")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestLocal_ProbeFailureRemovesCopy(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "broken.mp4")
	require.NoError(t, os.WriteFile(src, []byte("junk"), 0o644))

	dst := t.TempDir()
	l := NewLocal(&stubProber{err: errors.New("no video")}, dst)

	_, err := l.FetchAsset(context.Background(), src, nil)
	require.Error(t, err)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouter(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	local := NewLocal(&stubProber{info: &domain.VideoInfo{Duration: 7}}, t.TempDir())
	remote := NewYTDLP(YTDLPOptions{Binary: installFake(t, "yt-dlp", fakeYTDLP), Dir: t.TempDir()}, nil)
	r := &Router{Local: local, Remote: remote}

	d, err := r.FetchDuration(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 7.0, d)

	d, err = r.FetchDuration(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 5400.0, d)

	assert.NoError(t, r.Validate(src))
	assert.NoError(t, r.Validate("https://youtu.be/dQw4w9WgXcQ"))
	assert.ErrorIs(t, r.Validate("https://example.com/video"), ErrInvalidSource)
	assert.ErrorIs(t, (&Router{Remote: remote}).Validate(src), ErrInvalidSource)
}

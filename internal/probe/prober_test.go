package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func installFakeFFprobe(t *testing.T, script string) {
	t.Helper()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "ffprobe"), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake ffprobe: %v", err)
	}

	originalPath := os.Getenv("PATH")
	t.Cleanup(func() { _ = os.Setenv("PATH", originalPath) })
	if err := os.Setenv("PATH", tmpDir+string(os.PathListSeparator)+originalPath); err != nil {
		t.Fatalf("failed to update PATH: %v", err)
	}
}

func TestProbe_ParsesVideoStream(t *testing.T) {
	installFakeFFprobe(t, ffprobeScript)

	info, err := NewProber("").Probe(context.Background(), "/tmp/input.mp4")
	if err != nil {
		t.Fatalf("probe returned error: %v", err)
	}

	if info.Duration != 5400.5 {
		t.Fatalf("unexpected duration: %v", info.Duration)
	}
	if info.Codec != "h264" || info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("unexpected video stream: %#v", info)
	}
	if info.FrameRate < 29.9 || info.FrameRate > 30.1 {
		t.Fatalf("expected average frame rate around 29.97, got %f", info.FrameRate)
	}
}

func TestProbe_FallsBackToRealFrameRate(t *testing.T) {
	installFakeFFprobe(t, `#!/bin/sh
cat <<'EOF'
{"streams":[{"index":0,"codec_name":"vp9","codec_type":"video","width":1280,"height":720,"r_frame_rate":"25/1","avg_frame_rate":"0/0","duration":"61.0"}],"format":{}}
EOF
`)

	info, err := NewProber("").Probe(context.Background(), "/tmp/input.webm")
	if err != nil {
		t.Fatalf("probe returned error: %v", err)
	}
	if info.FrameRate != 25 {
		t.Fatalf("expected r_frame_rate fallback, got %v", info.FrameRate)
	}
	if info.Duration != 61 {
		t.Fatalf("expected stream duration fallback, got %v", info.Duration)
	}
}

func TestProbe_NoVideoStreamFails(t *testing.T) {
	installFakeFFprobe(t, `#!/bin/sh
echo '{"streams":[{"index":0,"codec_type":"audio"}],"format":{"duration":"10"}}'
`)

	if _, err := NewProber("").Probe(context.Background(), "/tmp/audio.m4a"); err == nil {
		t.Fatalf("expected error for file without video")
	}
}

func TestProbe_CommandFailure(t *testing.T) {
	installFakeFFprobe(t, "#!/bin/sh\necho boom >&2\nexit 1\n")

	if _, err := NewProber("").Probe(context.Background(), "/tmp/missing.mp4"); err == nil {
		t.Fatalf("expected error when ffprobe fails")
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := parseFrameRate("30000/1001"); got < 29.97 || got > 29.98 {
		t.Fatalf("unexpected rational rate: %v", got)
	}
	if got := parseFrameRate("24"); got != 24 {
		t.Fatalf("unexpected plain rate: %v", got)
	}
	if got := parseFrameRate("1/0"); got != 0 {
		t.Fatalf("zero denominator should yield 0, got %v", got)
	}
}

const ffprobeScript = `#!/bin/sh
if printf "%s" "$*" | grep -q "show_format"; then
  cat <<'EOF'
{"streams":[{"index":0,"codec_name":"h264","codec_type":"video","width":1920,"height":1080,"r_frame_rate":"60/1","avg_frame_rate":"30000/1001"}],"format":{"duration":"5400.5"}}
EOF
  exit 0
fi

echo "unexpected args: $*" >&2
exit 1
`

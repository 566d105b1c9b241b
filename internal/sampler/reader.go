package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
)

type ReaderState int

const (
	ReaderStateRunning ReaderState = iota
	ReaderStateDone
	ReaderStateError
	ReaderStateClosed
)

type reader struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
	stderr *tailBuffer
	cancel context.CancelFunc
	width  int
	height int
	buf    []byte

	mu    sync.Mutex
	state ReaderState
	err   error
}

func newReader(cmd *exec.Cmd, stdout io.Reader, stderr *tailBuffer, cancel context.CancelFunc, width, height int) *reader {
	frameSize := width * height * 3
	return &reader{
		cmd:    cmd,
		stdout: bufio.NewReaderSize(stdout, frameSize),
		stderr: stderr,
		cancel: cancel,
		width:  width,
		height: height,
		buf:    make([]byte, frameSize),
		state:  ReaderStateRunning,
	}
}

// Next returns the next sampled frame, io.EOF once the stream ends cleanly,
// or the decoder error.
func (r *reader) Next() (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case ReaderStateDone:
		return nil, io.EOF
	case ReaderStateError:
		return nil, r.err
	case ReaderStateClosed:
		return nil, fmt.Errorf("reader closed")
	}

	_, err := io.ReadFull(r.stdout, r.buf)
	if err == nil {
		return r.decode(), nil
	}

	waitErr := r.cmd.Wait()
	r.cancel()

	switch {
	case errors.Is(err, io.EOF) && waitErr == nil:
		r.state = ReaderStateDone
		return nil, io.EOF
	case waitErr != nil:
		r.state = ReaderStateError
		r.err = fmt.Errorf("ffmpeg: %w: %s", waitErr, strings.TrimSpace(r.stderr.String()))
	default:
		r.state = ReaderStateError
		r.err = fmt.Errorf("read frame: %w", err)
	}

	return nil, r.err
}

func (r *reader) decode() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	for i, j := 0, 0; i < len(r.buf); i, j = i+3, j+4 {
		img.Pix[j] = r.buf[i]
		img.Pix[j+1] = r.buf[i+1]
		img.Pix[j+2] = r.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Close kills the decoder if it is still running and reaps it.
func (r *reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == ReaderStateClosed {
		return nil
	}
	running := r.state == ReaderStateRunning
	r.state = ReaderStateClosed

	r.cancel()
	if running {
		_ = r.cmd.Wait()
	}
	return nil
}

func (r *reader) State() ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = b.data[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

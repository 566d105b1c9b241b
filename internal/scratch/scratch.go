package scratch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shirou/gopsutil/v4/disk"
)

var ErrInsufficientStorage = errors.New("insufficient scratch storage")

type usageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Manager owns the scratch root under which every request gets its own area.
type Manager struct {
	root    string
	minFree uint64
	usage   usageFunc
}

func NewManager(root string, minFree uint64) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "slidepdf")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Manager{root: root, minFree: minFree, usage: disk.UsageWithContext}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Check fails with ErrInsufficientStorage when the filesystem holding the
// scratch root has less than the configured free space.
func (m *Manager) Check(ctx context.Context) error {
	if m.minFree == 0 {
		return nil
	}

	stat, err := m.usage(ctx, m.root)
	if err != nil {
		return fmt.Errorf("scratch usage: %w", err)
	}
	if stat.Free < m.minFree {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientStorage, stat.Free, m.minFree)
	}
	return nil
}

func (m *Manager) Open(requestID string) (*Area, error) {
	dir := filepath.Join(m.root, "req-"+filepath.Base(requestID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create request scratch: %w", err)
	}
	return &Area{dir: dir}, nil
}

// Area is the scratch space of one request.
type Area struct {
	dir string

	mu     sync.Mutex
	closed bool
}

func (a *Area) Dir() string {
	return a.dir
}

func (a *Area) Segment(index int) (string, error) {
	dir := a.segmentDir(index)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment scratch: %w", err)
	}
	return dir, nil
}

func (a *Area) RemoveSegment(index int) error {
	if err := os.RemoveAll(a.segmentDir(index)); err != nil {
		return fmt.Errorf("remove segment scratch: %w", err)
	}
	return nil
}

// Close removes the whole area. Safe to call more than once.
func (a *Area) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("remove request scratch: %w", err)
	}
	return nil
}

func (a *Area) segmentDir(index int) string {
	return filepath.Join(a.dir, fmt.Sprintf("seg-%d", index))
}

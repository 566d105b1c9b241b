package admission

import (
	"errors"
	"sync"
	"testing"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	admitted []string
	denied   []error
	released []string
}

func (r *recordingObserver) Admitted(requesterID string, global int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted = append(r.admitted, requesterID)
}

func (r *recordingObserver) Denied(requesterID string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied = append(r.denied, reason)
}

func (r *recordingObserver) Released(requesterID string, global int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, requesterID)
}

func TestTryAcquire_GlobalCapCheckedFirst(t *testing.T) {
	c := NewController(2, 1, nil)

	require.NoError(t, c.TryAcquire("a"))
	require.NoError(t, c.TryAcquire("b"))

	err := c.TryAcquire("a")
	assert.ErrorIs(t, err, domain.ErrServerFull)
	assert.NotErrorIs(t, err, domain.ErrRequesterLimit)

	global, per := c.Snapshot()
	assert.Equal(t, 2, global)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, per)
}

func TestTryAcquire_RequesterLimit(t *testing.T) {
	c := NewController(2, 1, nil)

	require.NoError(t, c.TryAcquire("a"))
	assert.ErrorIs(t, c.TryAcquire("a"), domain.ErrRequesterLimit)

	global, per := c.Snapshot()
	assert.Equal(t, 1, global)
	assert.Equal(t, 1, per["a"])
}

func TestRelease_FreesSlotForNextRequester(t *testing.T) {
	c := NewController(2, 1, nil)

	require.NoError(t, c.TryAcquire("a"))
	require.NoError(t, c.TryAcquire("b"))
	require.ErrorIs(t, c.TryAcquire("c"), domain.ErrServerFull)

	c.Release("a")
	require.NoError(t, c.TryAcquire("c"))

	global, per := c.Snapshot()
	assert.Equal(t, 2, global)
	assert.NotContains(t, per, "a")
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	c := NewController(3, 2, nil)

	c.Release("ghost")
	global, per := c.Snapshot()
	assert.Equal(t, 0, global)
	assert.Empty(t, per)

	require.NoError(t, c.TryAcquire("a"))
	require.NoError(t, c.TryAcquire("a"))
	c.Release("a")

	global, per = c.Snapshot()
	assert.Equal(t, 1, global)
	assert.Equal(t, 1, per["a"])
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	c := NewController(3, 1, nil)
	require.NoError(t, c.TryAcquire("a"))

	_, per := c.Snapshot()
	per["a"] = 99

	_, again := c.Snapshot()
	assert.Equal(t, 1, again["a"])
}

func TestObserverSeesEveryDecision(t *testing.T) {
	obs := &recordingObserver{}
	c := NewController(1, 1, obs)

	require.NoError(t, c.TryAcquire("a"))
	require.Error(t, c.TryAcquire("b"))
	c.Release("a")

	assert.Equal(t, []string{"a"}, obs.admitted)
	require.Len(t, obs.denied, 1)
	assert.True(t, errors.Is(obs.denied[0], domain.ErrServerFull))
	assert.Equal(t, []string{"a"}, obs.released)
}

func TestConcurrentAcquireNeverExceedsLimits(t *testing.T) {
	c := NewController(5, 2, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted = map[string]int{}
		total   int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b", "c", "d"}[i%4]
			if c.TryAcquire(id) == nil {
				mu.Lock()
				granted[id]++
				total++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, total)
	for id, n := range granted {
		assert.LessOrEqual(t, n, 2, "requester %s over limit", id)
	}

	global, _ := c.Snapshot()
	assert.Equal(t, 5, global)
}

func TestNewController_ClampsLimits(t *testing.T) {
	c := NewController(0, -1, nil)
	total, user := c.Limits()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, user)
}

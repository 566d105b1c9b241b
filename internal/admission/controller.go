package admission

import (
	"fmt"
	"sync"

	"github.com/eleven-am/slidepdf/internal/domain"
)

// Observer is notified after every grant, denial or release. It is called
// without the lock held.
type Observer interface {
	Admitted(requesterID string, global int)
	Denied(requesterID string, reason error)
	Released(requesterID string, global int)
}

type state struct {
	global       int
	perRequester map[string]int
}

// Controller enforces a global cap and a per-requester cap on requests in flight.
type Controller struct {
	maxTotal int
	maxUser  int
	observer Observer

	mu    sync.Mutex
	state state
}

func NewController(maxTotal, maxUser int, observer Observer) *Controller {
	if maxTotal < 1 {
		maxTotal = 1
	}
	if maxUser < 1 {
		maxUser = 1
	}
	return &Controller{
		maxTotal: maxTotal,
		maxUser:  maxUser,
		observer: observer,
		state:    state{perRequester: make(map[string]int)},
	}
}

// TryAcquire grants a slot or returns ErrServerFull / ErrRequesterLimit. The
// global cap is checked first. A denial leaves the state untouched.
func (c *Controller) TryAcquire(requesterID string) error {
	c.mu.Lock()
	var denied error
	switch {
	case c.state.global >= c.maxTotal:
		denied = domain.ErrServerFull
	case c.state.perRequester[requesterID] >= c.maxUser:
		denied = domain.ErrRequesterLimit
	default:
		c.state.global++
		c.state.perRequester[requesterID]++
	}
	global := c.state.global
	c.mu.Unlock()

	if denied != nil {
		if c.observer != nil {
			c.observer.Denied(requesterID, denied)
		}
		return fmt.Errorf("admit %s: %w", requesterID, denied)
	}

	if c.observer != nil {
		c.observer.Admitted(requesterID, global)
	}
	return nil
}

// Release returns a slot. Counters never go below zero.
func (c *Controller) Release(requesterID string) {
	c.mu.Lock()
	if c.state.global > 0 {
		c.state.global--
	}
	if n := c.state.perRequester[requesterID]; n <= 1 {
		delete(c.state.perRequester, requesterID)
	} else {
		c.state.perRequester[requesterID] = n - 1
	}
	global := c.state.global
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.Released(requesterID, global)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Controller) Snapshot() (int, map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	per := make(map[string]int, len(c.state.perRequester))
	for k, v := range c.state.perRequester {
		per[k] = v
	}
	return c.state.global, per
}

func (c *Controller) Limits() (int, int) {
	return c.maxTotal, c.maxUser
}

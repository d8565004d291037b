package gate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultHold  = 3 * time.Second
	queueSize    = 8
	closeTimeout = 5 * time.Second
)

// Cycler serializes gate cycles (open, hold, close) on one goroutine so that
// request handlers never block on the barrier.
type Cycler struct {
	ctrl     Controller
	hold     time.Duration
	requests chan string
	log      zerolog.Logger

	completed atomic.Int64
}

func NewCycler(ctrl Controller, hold time.Duration, log zerolog.Logger) *Cycler {
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Cycler{
		ctrl:     ctrl,
		hold:     hold,
		requests: make(chan string, queueSize),
		log:      log.With().Str("component", "gate_cycler").Logger(),
	}
}

// Trigger queues a gate cycle. It returns false when the queue is full.
func (c *Cycler) Trigger(reason string) bool {
	select {
	case c.requests <- reason:
		return true
	default:
		c.log.Warn().Str("reason", reason).Msg("gate queue full, cycle dropped")
		return false
	}
}

func (c *Cycler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-c.requests:
			c.cycle(ctx, reason)
		}
	}
}

func (c *Cycler) Completed() int64 {
	return c.completed.Load()
}

func (c *Cycler) cycle(ctx context.Context, reason string) {
	if err := c.ctrl.Open(ctx); err != nil {
		c.log.Error().Err(err).Str("reason", reason).Msg("failed to open gate")
		return
	}
	c.log.Info().Str("reason", reason).Dur("hold", c.hold).Msg("gate opened")

	timer := time.NewTimer(c.hold)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	// закрываем шлагбаум даже при остановке сервиса
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.ctrl.Close(closeCtx); err != nil {
		c.log.Error().Err(err).Str("reason", reason).Msg("failed to close gate")
		return
	}
	c.completed.Add(1)
	c.log.Info().Str("reason", reason).Msg("gate closed")
}

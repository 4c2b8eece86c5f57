package veo

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Poller turns an asynchronous operation handle into a synchronous result.
// Cancellation travels through ctx: it is observed before every status check
// and during every sleep, so a disconnected caller stops the loop within one
// scheduler wakeup and no further network calls are issued.
type Poller struct {
	Interval time.Duration
	MaxPolls int
	Logger   zerolog.Logger
}

// NewPoller applies the defaults of a 5s interval and a 180-poll ceiling
// (roughly fifteen minutes).
func NewPoller(interval time.Duration, maxPolls int, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 180
	}
	return &Poller{Interval: interval, MaxPolls: maxPolls, Logger: logger}
}

// Await polls fetch until the operation reports done, the budget is spent,
// or ctx is canceled. A done operation with an upstream error message yields
// an *OperationError; budget exhaustion yields ErrPollTimeout.
func (p *Poller) Await(ctx context.Context, name string, fetch func(context.Context, string) (*Operation, error)) (*Operation, error) {
	for poll := 1; poll <= p.MaxPolls; poll++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		op, err := fetch(ctx, name)
		if err != nil {
			return nil, err
		}
		if op.Done {
			if op.ErrMessage != "" {
				return nil, &OperationError{Message: op.ErrMessage}
			}
			p.Logger.Debug().Str("operation", name).Int("polls", poll).Msg("veo: operation complete")
			return op, nil
		}

		p.Logger.Debug().Str("operation", name).Int("poll", poll).Msg("veo: operation still running")

		timer := time.NewTimer(p.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, ErrPollTimeout
}

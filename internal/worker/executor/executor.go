package executor

import (
	"context"
	"time"

	"grinder/pkg/model"
)

// Executor runs one dispatch with its staged payload and returns the
// operation's yield: security removed, money taken or growth multiplier.
type Executor interface {
	Run(ctx context.Context, d *model.Dispatch, p *model.Payload) (float64, error)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

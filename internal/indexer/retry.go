package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"honeysnare/internal/model"
)

const defaultRetryBackoff = 100 * time.Millisecond

// retryPolicy retries transport failures within one cycle. Storage, decode
// and configuration failures are returned at once.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration, logger *zap.Logger) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

// do runs fn, doubling the delay between attempts, until it succeeds or
// returns a non-transport error or the retries are used up.
func (p retryPolicy) do(ctx context.Context, chainName string, stage model.Stage, fn func(context.Context) error) error {
	delay := p.baseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if kind, ok := model.KindOf(err); !ok || kind != model.KindTransport || attempt > p.maxRetries {
			return err
		}

		p.logger.Warn("rpc attempt failed",
			zap.String("chain", chainName),
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

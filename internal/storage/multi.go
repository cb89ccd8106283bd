package storage

import (
	"context"

	"go.uber.org/zap"

	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
)

// Multi writes to a primary store and then to best-effort mirrors. Only the
// primary's result decides whether a record was stored.
type Multi struct {
	primary Storage
	mirrors []Storage
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewMulti(primary Storage, mirrors []Storage, m *metrics.Metrics, logger *zap.Logger) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Multi{primary: primary, mirrors: mirrors, metrics: m, logger: logger}
}

// Append stores record in the primary, then in every mirror.
func (s *Multi) Append(ctx context.Context, record model.EventRecord) error {
	if err := s.primary.Append(ctx, record); err != nil {
		return err
	}

	for _, mirror := range s.mirrors {
		if err := mirror.Append(ctx, record); err != nil {
			s.metrics.MirrorFailures.Inc()
			s.logger.Warn("mirror append failed",
				zap.String("chain", record.Chain),
				zap.String("tx_hash", record.TxHash),
				zap.Error(err),
			)
		}
	}
	return nil
}

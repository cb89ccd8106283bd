package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"honeysnare/internal/chain"
	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
	"honeysnare/internal/storage"
)

const (
	defaultInterval    = 60 * time.Second
	defaultConcurrency = 4
)

// RunConfig holds runtime settings for the poller.
type RunConfig struct {
	Interval     time.Duration
	Concurrency  int
	FromBlock    uint64
	BatchSize    uint64
	Topic0       []string
	MaxRetries   int
	RetryBackoff time.Duration
}

// ChainClient is the RPC surface the runner needs from one chain.
type ChainClient interface {
	GetCode(ctx context.Context, address string) (string, error)
	GetLogs(ctx context.Context, filter chain.LogFilter) ([]model.RawLogEntry, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// LogDecoder converts raw logs into event records.
type LogDecoder interface {
	Decode(chain string, entries []model.RawLogEntry) ([]model.EventRecord, []model.DecodeError)
}

// Target pairs a configured chain with the client that serves it. Inactive
// targets may leave Client nil.
type Target struct {
	model.ChainTarget
	Client ChainClient
}

// ChainReport summarizes one chain's part of a cycle.
type ChainReport struct {
	Chain    string
	Skipped  bool
	Reason   string
	Fetched  int
	Decoded  int
	Dropped  int
	Appended int
	Cursor   uint64
	Err      error
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Chains   []ChainReport
}

// Failed returns the chains that ended the cycle with an error.
func (r CycleReport) Failed() []ChainReport {
	var out []ChainReport
	for _, c := range r.Chains {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Runner polls every target for honeypot logs and writes the decoded
// records to storage.
type Runner struct {
	cfg     RunConfig
	retry   retryPolicy
	targets []Target
	decoder LogDecoder
	storage storage.Storage
	cursors CursorStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRunner builds a Runner with its dependencies. A nil cursors store makes
// every cycle scan from cfg.FromBlock.
func NewRunner(cfg RunConfig, targets []Target, dec LogDecoder, storageSink storage.Storage, cursors CursorStore, m *metrics.Metrics, logger *zap.Logger) (*Runner, error) {
	if dec == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if storageSink == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	for _, target := range targets {
		if target.Active() && target.Client == nil {
			return nil, fmt.Errorf("active chain %s has no client", target.Chain)
		}
	}
	topics, err := ParseTopic0(cfg.Topic0)
	if err != nil {
		return nil, err
	}
	cfg.Topic0 = topics
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &Runner{
		cfg:     cfg,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff, logger),
		targets: targets,
		decoder: dec,
		storage: storageSink,
		cursors: cursors,
		metrics: m,
		logger:  logger,
	}, nil
}

// Run polls immediately and then on every interval tick until ctx is done.
// A cycle in progress is never interrupted.
func (r *Runner) Run(ctx context.Context) error {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("poll loop stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce polls every target once. Chains are isolated from each other: a
// failure on one is reported and never stops the rest.
func (r *Runner) RunOnce(ctx context.Context) CycleReport {
	ctx = context.WithoutCancel(ctx)
	report := CycleReport{
		Started: time.Now(),
		Chains:  make([]ChainReport, len(r.targets)),
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, target := range r.targets {
		i, target := i, target
		g.Go(func() error {
			report.Chains[i] = r.pollChain(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	r.metrics.Cycles.Inc()
	r.metrics.CycleDuration.Observe(report.Duration.Seconds())

	appended := 0
	for _, c := range report.Chains {
		appended += c.Appended
	}
	r.logger.Info("poll cycle complete",
		zap.Int("chains", len(report.Chains)),
		zap.Int("failed", len(report.Failed())),
		zap.Int("appended", appended),
		zap.Duration("elapsed", report.Duration),
	)
	return report
}

func (r *Runner) pollChain(ctx context.Context, target Target) ChainReport {
	rep := ChainReport{Chain: target.Chain}
	if !target.Active() {
		rep.Skipped = true
		rep.Reason = "inactive"
		r.logger.Debug("chain inactive", zap.String("chain", target.Chain))
		return rep
	}
	logger := r.logger.With(zap.String("chain", target.Chain))

	deployed, err := chain.IsDeployed(ctx, target.Client, target.Address)
	if err != nil {
		return r.fail(logger, rep, classify(model.KindTransport, target.Chain, model.StagePresence, err))
	}
	if !deployed {
		rep.Skipped = true
		rep.Reason = "not deployed"
		r.metrics.ChainsSkipped.WithLabelValues(target.Chain).Inc()
		logger.Info("contract not deployed, skipping", zap.String("address", target.Address))
		return rep
	}

	from, err := r.startBlock(ctx, target.Chain)
	if err != nil {
		return r.fail(logger, rep, classify(model.KindStorage, target.Chain, model.StageCursor, err))
	}

	if r.cfg.BatchSize == 0 {
		if err := r.processRange(ctx, logger, target, &rep, from, nil); err != nil {
			return r.fail(logger, rep, err)
		}
		return rep
	}

	var head uint64
	err = r.retry.do(ctx, target.Chain, model.StageFetch, func(ctx context.Context) error {
		var err error
		head, err = target.Client.BlockNumber(ctx)
		return classify(model.KindTransport, target.Chain, model.StageFetch, err)
	})
	if err != nil {
		return r.fail(logger, rep, err)
	}
	if from > head {
		logger.Debug("nothing to sync", zap.Uint64("from", from), zap.Uint64("head", head))
		return rep
	}

	ranges, err := SplitRange(target.Chain, from, head, r.cfg.BatchSize)
	if err != nil {
		return r.fail(logger, rep, err)
	}
	for _, blockRange := range ranges {
		to := blockRange.To
		if err := r.processRange(ctx, logger, target, &rep, blockRange.From, &to); err != nil {
			return r.fail(logger, rep, err)
		}
	}
	return rep
}

// processRange fetches, decodes and stores logs in [from, to]. A nil to
// means the latest block. The cursor only moves past blocks whose records
// were all appended.
func (r *Runner) processRange(ctx context.Context, logger *zap.Logger, target Target, rep *ChainReport, from uint64, to *uint64) error {
	filter := chain.LogFilter{
		Address:   target.Address,
		FromBlock: from,
		ToBlock:   to,
		Topic0:    r.cfg.Topic0,
	}

	var entries []model.RawLogEntry
	err := r.retry.do(ctx, target.Chain, model.StageFetch, func(ctx context.Context) error {
		var err error
		entries, err = target.Client.GetLogs(ctx, filter)
		return classify(model.KindTransport, target.Chain, model.StageFetch, err)
	})
	if err != nil {
		return err
	}
	rep.Fetched += len(entries)
	r.metrics.LogsFetched.WithLabelValues(target.Chain).Add(float64(len(entries)))

	records, dropped := r.decoder.Decode(target.Chain, entries)
	rep.Decoded += len(records)
	rep.Dropped += len(dropped)
	if len(dropped) > 0 {
		r.metrics.RecordsDropped.WithLabelValues(target.Chain).Add(float64(len(dropped)))
	}

	for i, record := range records {
		if err := r.storage.Append(ctx, record); err != nil {
			storeErr := classify(model.KindStorage, target.Chain, model.StageStore, err)
			if block, ok := safeCursor(records[i:], from); ok {
				if serr := r.saveCursor(ctx, target.Chain, block); serr != nil {
					logger.Error("save cursor after store failure", zap.Uint64("block", block), zap.Error(serr))
				} else {
					rep.Cursor = block
				}
			}
			return storeErr
		}
		rep.Appended++
		r.metrics.RecordsAppended.WithLabelValues(target.Chain).Inc()
	}

	next, ok := completedBlock(entries, to)
	if !ok {
		return nil
	}
	if err := r.saveCursor(ctx, target.Chain, next); err != nil {
		return classify(model.KindStorage, target.Chain, model.StageCursor, err)
	}
	rep.Cursor = next

	logger.Debug("range complete",
		zap.Uint64("from", from),
		zap.Uint64("cursor", next),
		zap.Int("fetched", len(entries)),
		zap.Int("appended", len(records)),
	)
	return nil
}

func (r *Runner) startBlock(ctx context.Context, chainName string) (uint64, error) {
	if r.cursors == nil {
		return r.cfg.FromBlock, nil
	}
	last, ok, err := r.cursors.Load(ctx, chainName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if ok && last+1 > r.cfg.FromBlock {
		return last + 1, nil
	}
	return r.cfg.FromBlock, nil
}

func (r *Runner) saveCursor(ctx context.Context, chainName string, block uint64) error {
	if r.cursors == nil {
		return nil
	}
	return r.cursors.Save(ctx, chainName, block)
}

// fail records a classified chain error in rep, the metrics and the log.
func (r *Runner) fail(logger *zap.Logger, rep ChainReport, err error) ChainReport {
	rep.Err = err
	kind, stage := model.KindTransport, model.StageFetch
	var classified *model.Error
	if errors.As(err, &classified) {
		kind, stage = classified.Kind, classified.Stage
	}
	r.metrics.ChainErrors.WithLabelValues(rep.Chain, string(stage), kind.String()).Inc()
	logger.Error("chain poll failed",
		zap.String("stage", string(stage)),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	return rep
}

// classify wraps err unless it already carries a classification.
func classify(kind model.Kind, chainName string, stage model.Stage, err error) error {
	var classified *model.Error
	if errors.As(err, &classified) {
		return err
	}
	return model.NewError(kind, chainName, stage, err)
}

// safeCursor returns the highest block below every record that was not
// appended. It reports false when no such block lies inside the range.
func safeCursor(pending []model.EventRecord, from uint64) (uint64, bool) {
	var lowest uint64
	found := false
	for _, record := range pending {
		if !record.HasBlock {
			return 0, false
		}
		if !found || record.BlockNumber < lowest {
			lowest = record.BlockNumber
			found = true
		}
	}
	if !found || lowest <= from {
		return 0, false
	}
	return lowest - 1, true
}

// completedBlock returns the block the cursor may advance to once every
// record of a fetch was handled: the range end when bounded, else the
// highest block seen.
func completedBlock(entries []model.RawLogEntry, to *uint64) (uint64, bool) {
	if to != nil {
		return *to, true
	}
	var highest uint64
	found := false
	for _, entry := range entries {
		if entry.BlockNumber == "" {
			continue
		}
		number, err := hexutil.DecodeUint64(entry.BlockNumber)
		if err != nil {
			continue
		}
		if !found || number > highest {
			highest = number
			found = true
		}
	}
	return highest, found
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"honeysnare/internal/chain"
	"honeysnare/internal/decoder"
	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
)

const honeypot = "0xf693DAC3dF95a731FA169C3aFAE6e0C3c416AF47"

type fakeClient struct {
	chain   string
	code    string
	codeErr error
	head    uint64
	logs    []model.RawLogEntry
	logsErr error
	// flaky fails this many eth_getLogs calls before answering.
	flaky int

	mu       sync.Mutex
	codeCall int
	filters  []chain.LogFilter
}

func (c *fakeClient) GetCode(_ context.Context, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codeCall++
	return c.code, c.codeErr
}

// GetLogs returns the configured logs that fall inside the filter's range.
func (c *fakeClient) GetLogs(_ context.Context, filter chain.LogFilter) ([]model.RawLogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, filter)
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	if c.flaky > 0 {
		c.flaky--
		return nil, errors.New("502 bad gateway")
	}
	var out []model.RawLogEntry
	for _, entry := range c.logs {
		number, err := hexutil.DecodeUint64(entry.BlockNumber)
		if err != nil {
			out = append(out, entry)
			continue
		}
		if number < filter.FromBlock || (filter.ToBlock != nil && number > *filter.ToBlock) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *fakeClient) BlockNumber(_ context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeClient) calls() (int, []chain.LogFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeCall, append([]chain.LogFilter(nil), c.filters...)
}

type memoryStorage struct {
	mu      sync.Mutex
	failTx  map[string]bool
	records []model.EventRecord
}

func (s *memoryStorage) Append(_ context.Context, record model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTx[record.TxHash] {
		return errors.New("disk full")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memoryStorage) txHashes(chainName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, record := range s.records {
		if record.Chain == chainName {
			out = append(out, record.TxHash)
		}
	}
	return out
}

type memoryCursors struct {
	mu     sync.Mutex
	blocks map[string]uint64
}

func newMemoryCursors() *memoryCursors {
	return &memoryCursors{blocks: make(map[string]uint64)}
}

func (c *memoryCursors) Load(_ context.Context, chainName string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.blocks[chainName]
	return block, ok, nil
}

func (c *memoryCursors) Save(_ context.Context, chainName string, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[chainName] = block
	return nil
}

func rawLog(block uint64, index int) model.RawLogEntry {
	data := "0x00"
	return model.RawLogEntry{
		Address:         honeypot,
		Topics:          []string{fmt.Sprintf("0x%064x", 1), fmt.Sprintf("0x%064x", 0xabc)},
		Data:            &data,
		BlockNumber:     hexutil.EncodeUint64(block),
		TransactionHash: txHash(block, index),
		LogIndex:        hexutil.EncodeUint64(uint64(index)),
	}
}

func txHash(block uint64, index int) string {
	return fmt.Sprintf("0x%060x%04x", block, index)
}

func activeTarget(client *fakeClient) Target {
	return Target{
		ChainTarget: model.ChainTarget{Chain: client.chain, Address: honeypot, Enabled: true},
		Client:      client,
	}
}

func newTestRunner(t *testing.T, cfg RunConfig, targets []Target, sink *memoryStorage, cursors CursorStore, m *metrics.Metrics) *Runner {
	t.Helper()
	dec, err := decoder.New(decoder.Config{Now: func() time.Time { return time.Unix(1700000000, 0) }}, zap.NewNop())
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	runner, err := NewRunner(cfg, targets, dec, sink, cursors, m, zap.NewNop())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestRunOnceSkipsInactiveAndUndeployedChains(t *testing.T) {
	noAddress := &fakeClient{chain: "optimism", code: "0x6080"}
	empty := &fakeClient{chain: "base", code: "0x"}
	targets := []Target{
		{ChainTarget: model.ChainTarget{Chain: "solana", EndpointEnv: "SOL_RPC_URL"}},
		{ChainTarget: model.ChainTarget{Chain: "optimism", Enabled: true}, Client: noAddress},
		activeTarget(empty),
	}
	m := metrics.New(nil)
	runner := newTestRunner(t, RunConfig{}, targets, &memoryStorage{}, nil, m)

	report := runner.RunOnce(context.Background())

	for _, c := range report.Chains {
		if !c.Skipped || c.Err != nil {
			t.Fatalf("chain %s should be skipped without error: %+v", c.Chain, c)
		}
	}
	if calls, filters := noAddress.calls(); calls != 0 || len(filters) != 0 {
		t.Fatalf("chain without address must not be contacted: code=%d logs=%d", calls, len(filters))
	}
	if calls, filters := empty.calls(); calls != 1 || len(filters) != 0 {
		t.Fatalf("undeployed chain should only be probed: code=%d logs=%d", calls, len(filters))
	}
	if got := testutil.ToFloat64(m.ChainsSkipped.WithLabelValues("base")); got != 1 {
		t.Fatalf("skip metric mismatch: %v", got)
	}
}

func TestRunOnceIsolatesChainFailures(t *testing.T) {
	broken := &fakeClient{chain: "arbitrum", code: "0x6080", logsErr: errors.New("connection refused")}
	healthy := &fakeClient{chain: "base", code: "0x6080", logs: []model.RawLogEntry{rawLog(5, 0), rawLog(6, 0)}}
	sink := &memoryStorage{}
	m := metrics.New(nil)
	runner := newTestRunner(t, RunConfig{}, []Target{activeTarget(broken), activeTarget(healthy)}, sink, nil, m)

	report := runner.RunOnce(context.Background())

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Chain != "arbitrum" {
		t.Fatalf("expected only arbitrum to fail: %+v", failed)
	}
	if kind, ok := model.KindOf(failed[0].Err); !ok || kind != model.KindTransport {
		t.Fatalf("expected transport error, got %v", failed[0].Err)
	}
	if got := sink.txHashes("base"); len(got) != 2 {
		t.Fatalf("healthy chain should store its records: %v", got)
	}
	if got := testutil.ToFloat64(m.ChainErrors.WithLabelValues("arbitrum", "fetch", "transport")); got != 1 {
		t.Fatalf("error metric mismatch: %v", got)
	}
}

func TestRunOncePresenceFailure(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", codeErr: errors.New("timeout")}
	runner := newTestRunner(t, RunConfig{}, []Target{activeTarget(client)}, &memoryStorage{}, nil, nil)

	report := runner.RunOnce(context.Background())

	var classified *model.Error
	if !errors.As(report.Chains[0].Err, &classified) || classified.Stage != model.StagePresence {
		t.Fatalf("expected presence error, got %v", report.Chains[0].Err)
	}
	if _, filters := client.calls(); len(filters) != 0 {
		t.Fatalf("logs must not be fetched after a failed presence check")
	}
}

func TestRunOnceKeepsResponseOrderAndDropsMalformed(t *testing.T) {
	bad := rawLog(8, 1)
	bad.Data = nil
	client := &fakeClient{chain: "arbitrum", code: "0x6080", logs: []model.RawLogEntry{rawLog(9, 0), rawLog(7, 0), bad, rawLog(8, 0)}}
	sink := &memoryStorage{}
	runner := newTestRunner(t, RunConfig{}, []Target{activeTarget(client)}, sink, nil, nil)

	report := runner.RunOnce(context.Background())

	want := []string{txHash(9, 0), txHash(7, 0), txHash(8, 0)}
	if got := sink.txHashes("arbitrum"); !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch: %v != %v", got, want)
	}
	c := report.Chains[0]
	if c.Fetched != 4 || c.Decoded != 3 || c.Dropped != 1 || c.Appended != 3 || c.Err != nil {
		t.Fatalf("report mismatch: %+v", c)
	}
}

func TestRunOnceCursorNeverPassesFailedBlock(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", code: "0x6080", logs: []model.RawLogEntry{rawLog(10, 0), rawLog(11, 0), rawLog(12, 0), rawLog(12, 1)}}
	sink := &memoryStorage{failTx: map[string]bool{txHash(12, 1): true}}
	cursors := newMemoryCursors()
	runner := newTestRunner(t, RunConfig{FromBlock: 10}, []Target{activeTarget(client)}, sink, cursors, nil)

	report := runner.RunOnce(context.Background())
	if kind, ok := model.KindOf(report.Chains[0].Err); !ok || kind != model.KindStorage {
		t.Fatalf("expected storage error, got %v", report.Chains[0].Err)
	}
	if block, _, _ := cursors.Load(context.Background(), "arbitrum"); block != 11 {
		t.Fatalf("cursor should stop below the failed block: %d", block)
	}

	sink.mu.Lock()
	sink.failTx = nil
	sink.mu.Unlock()

	report = runner.RunOnce(context.Background())
	if report.Chains[0].Err != nil {
		t.Fatalf("second cycle failed: %v", report.Chains[0].Err)
	}
	_, filters := client.calls()
	if filters[1].FromBlock != 12 || filters[1].ToBlock != nil {
		t.Fatalf("second fetch should resume at block 12: %+v", filters[1])
	}
	want := []string{txHash(10, 0), txHash(11, 0), txHash(12, 0), txHash(12, 0), txHash(12, 1)}
	if got := sink.txHashes("arbitrum"); !reflect.DeepEqual(got, want) {
		t.Fatalf("stored records mismatch: %v != %v", got, want)
	}
	if block, _, _ := cursors.Load(context.Background(), "arbitrum"); block != 12 {
		t.Fatalf("cursor should reach block 12: %d", block)
	}
}

func TestRunOnceWithoutCursorRescans(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", code: "0x6080", logs: []model.RawLogEntry{rawLog(3, 0)}}
	sink := &memoryStorage{}
	runner := newTestRunner(t, RunConfig{}, []Target{activeTarget(client)}, sink, nil, nil)

	runner.RunOnce(context.Background())
	runner.RunOnce(context.Background())

	_, filters := client.calls()
	if len(filters) != 2 || filters[0].FromBlock != 0 || filters[1].FromBlock != 0 {
		t.Fatalf("every cycle should scan from block 0: %+v", filters)
	}
	if got := sink.txHashes("arbitrum"); len(got) != 2 {
		t.Fatalf("rescans deliver duplicates: %v", got)
	}
}

func TestRunOnceBatchedRanges(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", code: "0x6080", head: 25, logs: []model.RawLogEntry{rawLog(4, 0), rawLog(21, 0)}}
	sink := &memoryStorage{}
	cursors := newMemoryCursors()
	runner := newTestRunner(t, RunConfig{BatchSize: 10}, []Target{activeTarget(client)}, sink, cursors, nil)

	report := runner.RunOnce(context.Background())
	if report.Chains[0].Err != nil || report.Chains[0].Appended != 2 {
		t.Fatalf("report mismatch: %+v", report.Chains[0])
	}

	_, filters := client.calls()
	var got []BlockRange
	for _, filter := range filters {
		got = append(got, BlockRange{From: filter.FromBlock, To: *filter.ToBlock})
	}
	want := []BlockRange{{From: 0, To: 9}, {From: 10, To: 19}, {From: 20, To: 25}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
	if block, _, _ := cursors.Load(context.Background(), "arbitrum"); block != 25 {
		t.Fatalf("cursor should reach head: %d", block)
	}

	report = runner.RunOnce(context.Background())
	if _, filters := client.calls(); len(filters) != 3 || report.Chains[0].Err != nil {
		t.Fatalf("nothing new past head, no fetch expected: %d %v", len(filters), report.Chains[0].Err)
	}
}

func TestRunStopsBetweenCycles(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", code: "0x6080"}
	runner := newTestRunner(t, RunConfig{Interval: time.Hour}, []Target{activeTarget(client)}, &memoryStorage{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls, filters := client.calls(); calls != 1 || len(filters) != 1 {
		t.Fatalf("canceled loop should still finish its first cycle: code=%d logs=%d", calls, len(filters))
	}
}

func TestNewRunnerValidation(t *testing.T) {
	dec, err := decoder.New(decoder.Config{}, nil)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	target := Target{ChainTarget: model.ChainTarget{Chain: "arbitrum", Address: honeypot, Enabled: true}}
	if _, err := NewRunner(RunConfig{}, []Target{target}, dec, &memoryStorage{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for active target without client")
	}
	if _, err := NewRunner(RunConfig{Topic0: []string{"0x1234"}}, nil, dec, &memoryStorage{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for short topic0")
	}
}

func TestRunOnceRetriesFlakyFetch(t *testing.T) {
	client := &fakeClient{chain: "arbitrum", code: "0x6080", flaky: 2, logs: []model.RawLogEntry{rawLog(5, 0)}}
	sink := &memoryStorage{}
	runner := newTestRunner(t, RunConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}, []Target{activeTarget(client)}, sink, nil, nil)

	report := runner.RunOnce(context.Background())

	if report.Chains[0].Err != nil || report.Chains[0].Appended != 1 {
		t.Fatalf("fetch should succeed on the third attempt: %+v", report.Chains[0])
	}
	if _, filters := client.calls(); len(filters) != 3 {
		t.Fatalf("expected 3 eth_getLogs attempts, got %d", len(filters))
	}
}

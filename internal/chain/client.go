package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
)

const defaultCallTimeout = 15 * time.Second

// Config describes the endpoint a Client talks to.
type Config struct {
	Chain       string
	Endpoint    string
	CallTimeout time.Duration
}

// Client issues JSON-RPC calls to a single chain endpoint. Every call runs
// under its own timeout and is never retried here.
type Client struct {
	chain     string
	rpcClient *rpc.Client
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// LogFilter selects logs for eth_getLogs. A nil ToBlock means "latest".
type LogFilter struct {
	Address   string
	FromBlock uint64
	ToBlock   *uint64
	Topic0    []string
}

// NewClient creates a client for cfg.Endpoint. HTTP endpoints are not
// contacted until the first call.
func NewClient(ctx context.Context, cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint for %s is empty", cfg.Chain)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.Endpoint, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, err
	}

	return &Client{
		chain:     cfg.Chain,
		rpcClient: rpcClient,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.With(zap.String("chain", cfg.Chain)),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Call sends one JSON-RPC request and returns the raw result. A result of
// null is returned as the literal null and is not an error; a response
// without a result field is.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result json.RawMessage
	err := c.rpcClient.CallContext(ctx, &result, method, params...)
	c.metrics.ObserveRPC(c.chain, method, start, err)
	if err != nil {
		c.logger.Debug("rpc call failed", zap.String("method", method), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, model.NewError(model.KindTransport, c.chain, stageFor(method), fmt.Errorf("%s: %w", method, err))
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return result, nil
}

// GetCode returns the bytecode deployed at address on the latest block.
func (c *Client) GetCode(ctx context.Context, address string) (string, error) {
	raw, err := c.Call(ctx, "eth_getCode", address, "latest")
	if err != nil {
		return "", err
	}
	if IsNull(raw) {
		return "", nil
	}

	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return "", model.NewError(model.KindTransport, c.chain, model.StagePresence, fmt.Errorf("parse eth_getCode result: %w", err))
	}
	return code, nil
}

// GetLogs fetches the logs matching filter. Entries whose JSON shape cannot be
// read are kept in place with ParseError set so the decoder can drop them.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]model.RawLogEntry, error) {
	raw, err := c.Call(ctx, "eth_getLogs", filterArg(filter))
	if err != nil {
		return nil, err
	}
	if IsNull(raw) {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, model.NewError(model.KindTransport, c.chain, model.StageFetch, fmt.Errorf("parse eth_getLogs result: %w", err))
	}

	entries := make([]model.RawLogEntry, 0, len(items))
	for _, item := range items {
		var entry model.RawLogEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			entry = model.RawLogEntry{ParseError: err.Error()}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, model.NewError(model.KindTransport, c.chain, model.StageFetch, fmt.Errorf("parse eth_blockNumber result: %w", err))
	}
	number, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, model.NewError(model.KindTransport, c.chain, model.StageFetch, fmt.Errorf("parse block number %q: %w", hex, err))
	}
	return number, nil
}

// IsNull reports whether raw is a JSON null.
func IsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func filterArg(filter LogFilter) map[string]interface{} {
	arg := map[string]interface{}{
		"address":   filter.Address,
		"fromBlock": hexutil.EncodeUint64(filter.FromBlock),
		"toBlock":   "latest",
	}
	if filter.ToBlock != nil {
		arg["toBlock"] = hexutil.EncodeUint64(*filter.ToBlock)
	}
	if len(filter.Topic0) > 0 {
		arg["topics"] = []interface{}{filter.Topic0}
	}
	return arg
}

func stageFor(method string) model.Stage {
	if method == "eth_getCode" {
		return model.StagePresence
	}
	return model.StageFetch
}

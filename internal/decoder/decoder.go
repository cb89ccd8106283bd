package decoder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"honeysnare/internal/model"
)

var (
	errUnreadable    = errors.New("unreadable log entry")
	errRemoved       = errors.New("log removed by reorg")
	errMissingTxHash = errors.New("missing transaction hash")
	errMissingTopics = errors.New("missing topics")
	errMissingData   = errors.New("missing data")
)

// Config controls how topic0 values map to action names.
type Config struct {
	// Signatures are event signatures such as "Withdraw(address,uint256)".
	// Their keccak256 hash maps to the event name.
	Signatures []string
	// Topic0Map maps raw topic0 hashes to action names.
	Topic0Map map[string]string
	// Now overrides the ingestion clock.
	Now func() time.Time
}

// Decoder turns raw honeypot logs into event records.
type Decoder struct {
	actions map[common.Hash]string
	now     func() time.Time
	logger  *zap.Logger
}

// New builds a decoder from cfg.
func New(cfg Config, logger *zap.Logger) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	actions := make(map[common.Hash]string, len(cfg.Signatures)+len(cfg.Topic0Map))
	for _, sig := range cfg.Signatures {
		name, topic0, err := parseSignature(sig)
		if err != nil {
			return nil, err
		}
		actions[topic0] = name
	}
	for key, name := range cfg.Topic0Map {
		topic0, err := parseTopic0(key)
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty action for topic0 %s", key)
		}
		actions[topic0] = name
	}

	return &Decoder{actions: actions, now: now, logger: logger}, nil
}

// Decode converts entries into records in input order. Malformed entries are
// dropped and reported; they never abort the batch.
func (d *Decoder) Decode(chain string, entries []model.RawLogEntry) ([]model.EventRecord, []model.DecodeError) {
	ts := d.now().Unix()
	records := make([]model.EventRecord, 0, len(entries))
	var dropped []model.DecodeError

	for i, entry := range entries {
		record, cause := d.decodeEntry(chain, entry, ts)
		if cause != nil {
			err := model.NewError(model.KindDecode, chain, model.StageDecode, cause)
			d.logger.Warn("drop malformed log",
				zap.String("chain", chain),
				zap.Int("position", i),
				zap.String("tx_hash", entry.TransactionHash),
				zap.Error(err),
			)
			dropped = append(dropped, model.DecodeError{
				Chain:       chain,
				TxHash:      entry.TransactionHash,
				BlockNumber: entry.BlockNumber,
				LogIndex:    entry.LogIndex,
				Error:       cause.Error(),
				Err:         err,
			})
			continue
		}
		records = append(records, record)
	}

	return records, dropped
}

// Action returns the action name for topic0, or the default sentinel.
func (d *Decoder) Action(topic0 string) string {
	if name, ok := d.actions[common.HexToHash(topic0)]; ok {
		return name
	}
	return model.DefaultAction
}

func (d *Decoder) decodeEntry(chain string, entry model.RawLogEntry, ts int64) (model.EventRecord, error) {
	if entry.ParseError != "" {
		return model.EventRecord{}, fmt.Errorf("%w: %s", errUnreadable, entry.ParseError)
	}
	if entry.Removed {
		return model.EventRecord{}, errRemoved
	}

	txHash := strings.TrimSpace(entry.TransactionHash)
	if txHash == "" {
		return model.EventRecord{}, errMissingTxHash
	}
	if _, err := hexutil.Decode(txHash); err != nil {
		return model.EventRecord{}, fmt.Errorf("invalid transaction hash: %w", err)
	}

	if entry.Topics == nil {
		return model.EventRecord{}, errMissingTopics
	}
	for idx, topic := range entry.Topics {
		if _, err := hexutil.Decode(topic); err != nil {
			return model.EventRecord{}, fmt.Errorf("invalid topic %d: %w", idx, err)
		}
	}

	if entry.Data == nil {
		return model.EventRecord{}, errMissingData
	}
	if _, err := hexutil.Decode(*entry.Data); err != nil {
		return model.EventRecord{}, fmt.Errorf("invalid data: %w", err)
	}

	record := model.EventRecord{
		Chain:     chain,
		Attacker:  model.UnknownActor,
		Action:    model.DefaultAction,
		Amount:    *entry.Data,
		Timestamp: ts,
		TxHash:    txHash,
	}
	if len(entry.Topics) > 0 {
		record.Action = d.Action(entry.Topics[0])
	}
	if len(entry.Topics) > 1 {
		record.Attacker = entry.Topics[1]
	}

	if entry.BlockNumber != "" {
		number, err := hexutil.DecodeUint64(entry.BlockNumber)
		if err != nil {
			return model.EventRecord{}, fmt.Errorf("invalid block number: %w", err)
		}
		record.BlockNumber = number
		record.HasBlock = true
	}
	if entry.LogIndex != "" {
		index, err := hexutil.DecodeUint64(entry.LogIndex)
		if err != nil {
			return model.EventRecord{}, fmt.Errorf("invalid log index: %w", err)
		}
		record.LogIndex = index
		record.HasLogIndex = true
	}

	return record, nil
}

func parseSignature(sig string) (string, common.Hash, error) {
	sig = strings.ReplaceAll(strings.TrimSpace(sig), " ", "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", common.Hash{}, fmt.Errorf("invalid event signature: %q", sig)
	}
	return sig[:open], crypto.Keccak256Hash([]byte(sig)), nil
}

func parseTopic0(input string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(input))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic0: %s", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid topic0 length: %s", input)
	}
	return common.BytesToHash(data), nil
}

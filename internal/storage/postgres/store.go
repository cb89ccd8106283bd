package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"honeysnare/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS honeypot_events (
	chain        TEXT        NOT NULL,
	tx_hash      TEXT        NOT NULL,
	log_key      TEXT        NOT NULL,
	log_index    BIGINT,
	block_number BIGINT,
	attacker     TEXT        NOT NULL,
	action       TEXT        NOT NULL,
	amount       TEXT        NOT NULL,
	observed_at  BIGINT      NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain, tx_hash, log_key)
);
CREATE INDEX IF NOT EXISTS honeypot_events_attacker_idx ON honeypot_events (chain, attacker);
CREATE TABLE IF NOT EXISTS indexer_state (
	name       TEXT        PRIMARY KEY,
	last_block BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const insertEvent = `
	INSERT INTO honeypot_events (
		chain, tx_hash, log_key, log_index, block_number, attacker, action, amount, observed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (chain, tx_hash, log_key) DO NOTHING
`

const upsertState = `
	INSERT INTO indexer_state (name, last_block, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (name) DO UPDATE
	SET last_block = EXCLUDED.last_block, updated_at = now()
`

const selectState = `SELECT last_block FROM indexer_state WHERE name=$1`

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store mirrors event records into Postgres and keeps named block cursors.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, db: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the store writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Append inserts one record. A record already stored under the same chain,
// transaction and log key is left untouched.
func (s *Store) Append(ctx context.Context, record model.EventRecord) error {
	args, err := eventArgs(record)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, insertEvent, args...); err != nil {
		return fmt.Errorf("insert honeypot event: %w", err)
	}
	return nil
}

// LoadState returns the block stored for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	if err := s.db.QueryRow(ctx, selectState, name).Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if block < 0 {
		return 0, false, fmt.Errorf("negative block %d stored for %s", block, name)
	}
	return uint64(block), true, nil
}

// SaveState upserts the block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	value, err := toBigint(block)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertState, name, value)
	return err
}

// logKey identifies a log within its transaction. Records without a log
// index fall back to a hash of their content, so two distinct logs never
// share a key.
func logKey(record model.EventRecord) string {
	if record.HasLogIndex {
		return strconv.FormatUint(record.LogIndex, 10)
	}
	block := ""
	if record.HasBlock {
		block = strconv.FormatUint(record.BlockNumber, 10)
	}
	sum := crypto.Keccak256Hash([]byte(block + "|" + record.Attacker + "|" + record.Action + "|" + record.Amount))
	return "h:" + sum.Hex()
}

func eventArgs(record model.EventRecord) ([]any, error) {
	var logIndex, block *int64
	if record.HasLogIndex {
		v, err := toBigint(record.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("log index: %w", err)
		}
		logIndex = &v
	}
	if record.HasBlock {
		v, err := toBigint(record.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block number: %w", err)
		}
		block = &v
	}
	return []any{
		record.Chain,
		record.TxHash,
		logKey(record),
		logIndex,
		block,
		record.Attacker,
		record.Action,
		record.Amount,
		record.Timestamp,
	}, nil
}

func toBigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows BIGINT", v)
	}
	return int64(v), nil
}

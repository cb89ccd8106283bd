package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"honeysnare/internal/metrics"
	"honeysnare/internal/model"
)

type recordingStorage struct {
	err     error
	records []model.EventRecord
}

func (s *recordingStorage) Append(_ context.Context, record model.EventRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func TestMultiMirrorFailureIsNotFatal(t *testing.T) {
	m := metrics.New(nil)
	primary := &recordingStorage{}
	broken := &recordingStorage{err: errors.New("db down")}
	healthy := &recordingStorage{}
	store := NewMulti(primary, []Storage{broken, healthy}, m, zap.NewNop())

	if err := store.Append(context.Background(), testRecord(1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(primary.records) != 1 || len(healthy.records) != 1 {
		t.Fatalf("record not fanned out: primary=%d healthy=%d", len(primary.records), len(healthy.records))
	}
	if got := testutil.ToFloat64(m.MirrorFailures); got != 1 {
		t.Fatalf("mirror failure metric mismatch: %v", got)
	}
}

func TestMultiPrimaryFailureStopsFanOut(t *testing.T) {
	primaryErr := errors.New("disk full")
	primary := &recordingStorage{err: primaryErr}
	mirror := &recordingStorage{}
	store := NewMulti(primary, []Storage{mirror}, nil, nil)

	err := store.Append(context.Background(), testRecord(1))
	if !errors.Is(err, primaryErr) {
		t.Fatalf("expected primary error, got %v", err)
	}
	if len(mirror.records) != 0 {
		t.Fatalf("mirror should not receive records the primary rejected")
	}
}

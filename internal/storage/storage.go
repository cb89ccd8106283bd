package storage

import (
	"context"

	"honeysnare/internal/model"
)

// Storage defines a sink for event records.
type Storage interface {
	Append(ctx context.Context, record model.EventRecord) error
}

// Package ledger reads and appends herb provenance records.
//
// Origin records and processing steps are owned by the ledger backend: this
// package only appends and reads, it never edits or deletes. Reads are
// point-in-time queries against the backend; nothing is cached here.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayurtrace/ayurtrace/internal/models"
)

var (
	// ErrNotFound is returned when no origin record exists for an id
	ErrNotFound = errors.New("herb not found")
	// ErrReverted is returned when a transaction was mined but reverted
	ErrReverted = errors.New("transaction reverted")
	// ErrNotProcessor is returned when the processor identity lacks the processor role
	ErrNotProcessor = errors.New("processor role not granted")
	// ErrUnavailable is returned when no ledger is configured or the node cannot be reached
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrNoIdentity is returned when a write needs a key that was not configured
	ErrNoIdentity = errors.New("signing identity not configured")
)

// OriginInput is the data submitted for a new origin record
type OriginInput struct {
	Species        string
	Confidence     uint8
	LatitudeFixed  int64
	LongitudeFixed int64
}

// Receipt identifies a mined origin record
type Receipt struct {
	ID     uint64 `json:"id"`
	TxHash string `json:"tx_hash"`
}

// Ledger is the provenance store
type Ledger interface {
	// AppendOrigin records a new origin and returns its assigned id
	AppendOrigin(ctx context.Context, in OriginInput) (Receipt, error)
	// AppendProcessingStep appends a step to an existing origin and returns the
	// transaction reference. Unknown ids fail with ErrNotFound.
	AppendProcessingStep(ctx context.Context, id uint64, action, batchNumber string) (string, error)
	GetOrigin(ctx context.Context, id uint64) (models.OriginRecord, error)
	GetProcessingHistory(ctx context.Context, id uint64) ([]models.ProcessingStep, error)
	Count(ctx context.Context) (uint64, error)
	// HasProcessorRole reports whether the processor identity may append steps
	HasProcessorRole(ctx context.Context) (bool, error)
	// EnsureProcessor grants the processor role when it is missing. It
	// reports whether a grant was performed.
	EnsureProcessor(ctx context.Context) (bool, error)
	Close() error
}

// BatchNumber builds the server-generated batch identifier for a processing step
func BatchNumber(id uint64, at time.Time) string {
	return fmt.Sprintf("BATCH-%d-%d", id, at.Unix())
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "revert")
}

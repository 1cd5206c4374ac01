package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayurtrace/ayurtrace/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteOptions configures the local development ledger
type SQLiteOptions struct {
	Path          string
	SubmitterKey  string
	ProcessorKey  string
	LazyRoleGrant bool
}

// SQLite is a Ledger kept in a local SQLite database. It has the same
// append-only semantics as the chain client and is meant for development
// without a node.
type SQLite struct {
	db    *sql.DB
	mu    sync.Mutex
	clock func() time.Time

	submitter     string
	processor     string
	lazyRoleGrant bool
}

// OpenSQLite opens (or creates) the database at opts.Path and migrates it
func OpenSQLite(ctx context.Context, opts SQLiteOptions) (*SQLite, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewSQLite(ctx, db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("Opened sqlite ledger", "path", opts.Path)
	return s, nil
}

// NewSQLite wraps an open database
func NewSQLite(ctx context.Context, db *sql.DB, opts SQLiteOptions) (*SQLite, error) {
	submitter, err := localAddress(opts.SubmitterKey, "local-submitter")
	if err != nil {
		return nil, fmt.Errorf("submitter key: %w", err)
	}
	processor, err := localAddress(opts.ProcessorKey, "local-processor")
	if err != nil {
		return nil, fmt.Errorf("processor key: %w", err)
	}

	s := &SQLite{
		db:            db,
		clock:         time.Now,
		submitter:     submitter,
		processor:     processor,
		lazyRoleGrant: opts.LazyRoleGrant,
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock used for record timestamps
func (s *SQLite) WithClock(clock func() time.Time) *SQLite {
	s.clock = clock
	return s
}

func localAddress(key, fallback string) (string, error) {
	id, err := parseIdentity(key)
	if err != nil {
		return "", err
	}
	if id == nil {
		return fallback, nil
	}
	return id.address.Hex(), nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS origins (
		id INTEGER PRIMARY KEY,
		species TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		latitude INTEGER NOT NULL,
		longitude INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		submitter TEXT NOT NULL,
		tx_hash TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS processing_steps (
		herb_id INTEGER NOT NULL REFERENCES origins(id),
		seq INTEGER NOT NULL,
		action TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		processor TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		PRIMARY KEY (herb_id, seq)
	);
	CREATE TABLE IF NOT EXISTS processors (
		address TEXT PRIMARY KEY,
		granted_at INTEGER NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate sqlite ledger: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AppendOrigin inserts a new origin with the next sequential id
func (s *SQLite) AppendOrigin(ctx context.Context, in OriginInput) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id uint64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM origins`).Scan(&id); err != nil {
		return Receipt{}, fmt.Errorf("failed to count origins: %w", err)
	}

	now := s.clock().Unix()
	hash := txRef("origin", id, in.Species, in.LatitudeFixed, in.LongitudeFixed, now)
	_, err = tx.ExecContext(ctx, `INSERT INTO origins (
		id, species, confidence, latitude, longitude, timestamp, submitter, tx_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.Species, in.Confidence, in.LatitudeFixed, in.LongitudeFixed, now, s.submitter, hash,
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to insert origin: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("failed to commit origin: %w", err)
	}

	slog.Info("Origin recorded", "herb_id", id, "species", in.Species, "tx", hash)
	return Receipt{ID: id, TxHash: hash}, nil
}

// AppendProcessingStep appends a step to an existing origin
func (s *SQLite) AppendProcessingStep(ctx context.Context, id uint64, action, batchNumber string) (string, error) {
	if _, err := s.GetOrigin(ctx, id); err != nil {
		return "", err
	}

	has, err := s.HasProcessorRole(ctx)
	if err != nil {
		return "", err
	}
	if !has {
		if !s.lazyRoleGrant {
			return "", fmt.Errorf("%w: %s", ErrNotProcessor, s.processor)
		}
		if _, err := s.EnsureProcessor(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_steps WHERE herb_id = ?`, id).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("failed to count processing steps: %w", err)
	}

	now := s.clock().Unix()
	hash := txRef("step", id, action, batchNumber, seq, now)
	_, err = tx.ExecContext(ctx, `INSERT INTO processing_steps (
		herb_id, seq, action, batch_number, timestamp, processor, tx_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seq, action, batchNumber, now, s.processor, hash,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert processing step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit processing step: %w", err)
	}

	slog.Info("Processing step recorded", "herb_id", id, "batch", batchNumber, "tx", hash)
	return hash, nil
}

// GetOrigin reads one origin record
func (s *SQLite) GetOrigin(ctx context.Context, id uint64) (models.OriginRecord, error) {
	rec := models.OriginRecord{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT species, confidence, latitude, longitude, timestamp, submitter
		FROM origins
		WHERE id = ?`, id,
	).Scan(&rec.Species, &rec.Confidence, &rec.LatitudeFixed, &rec.LongitudeFixed, &rec.Timestamp, &rec.Submitter)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OriginRecord{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return models.OriginRecord{}, fmt.Errorf("failed to read origin: %w", err)
	}
	return rec, nil
}

// GetProcessingHistory reads the steps of one origin in append order
func (s *SQLite) GetProcessingHistory(ctx context.Context, id uint64) ([]models.ProcessingStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, batch_number, timestamp, processor
		FROM processing_steps
		WHERE herb_id = ?
		ORDER BY seq ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := []models.ProcessingStep{}
	for rows.Next() {
		var step models.ProcessingStep
		if err := rows.Scan(&step.Action, &step.BatchNumber, &step.Timestamp, &step.Processor); err != nil {
			return nil, fmt.Errorf("failed to scan processing step: %w", err)
		}
		history = append(history, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

// Count returns the number of origin records
func (s *SQLite) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM origins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count origins: %w", err)
	}
	return n, nil
}

// HasProcessorRole reports whether the processor address is in the role table
func (s *SQLite) HasProcessorRole(ctx context.Context) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processors WHERE address = ?)`, s.processor).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check processor role: %w", err)
	}
	return has, nil
}

// EnsureProcessor adds the processor address to the role table unless present
func (s *SQLite) EnsureProcessor(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processors (address, granted_at) VALUES (?, ?)`,
		s.processor, s.clock().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to grant processor role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		slog.Debug("Processor role already granted", "processor", s.processor)
		return false, nil
	}
	slog.Info("Granted processor role", "processor", s.processor)
	return true, nil
}

// txRef synthesizes a transaction-hash-shaped reference for a local write
func txRef(parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

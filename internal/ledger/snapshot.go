package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ayurtrace/ayurtrace/internal/models"
)

// readConcurrency bounds parallel point reads against the backend
const readConcurrency = 8

// ReadAll reads every origin record, ids 0..count-1, in id order
func ReadAll(ctx context.Context, l Ledger) ([]models.OriginRecord, error) {
	n, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]models.OriginRecord, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := uint64(0); i < n; i++ {
		g.Go(func() error {
			rec, err := l.GetOrigin(gctx, i)
			if err != nil {
				return fmt.Errorf("failed to read herb %d: %w", i, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// Traces reads every origin together with its processing history, in id order
func Traces(ctx context.Context, l Ledger) ([]models.Trace, error) {
	origins, err := ReadAll(ctx, l)
	if err != nil {
		return nil, err
	}

	traces := make([]models.Trace, len(origins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, origin := range origins {
		g.Go(func() error {
			history, err := l.GetProcessingHistory(gctx, origin.ID)
			if err != nil {
				return fmt.Errorf("failed to read history of herb %d: %w", origin.ID, err)
			}
			traces[i] = models.Trace{Origin: origin, History: history}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return traces, nil
}

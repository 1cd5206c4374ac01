package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayurtrace/ayurtrace/internal/models"
)

func newTestSQLite(t *testing.T, lazy bool) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), SQLiteOptions{
		Path:          filepath.Join(t.TempDir(), "ledger.db"),
		LazyRoleGrant: lazy,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Unix(1_700_000_000, 0)
	s.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return s
}

func TestSQLiteOriginRoundTrip(t *testing.T) {
	s := newTestSQLite(t, false)
	ctx := context.Background()

	r0, err := s.AppendOrigin(ctx, OriginInput{
		Species:        "Tulasi",
		Confidence:     91,
		LatitudeFixed:  models.ToFixed(12.9716),
		LongitudeFixed: models.ToFixed(77.5946),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r0.ID)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, r0.TxHash)

	r1, err := s.AppendOrigin(ctx, OriginInput{Species: "Neem", Confidence: 40})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.ID)
	assert.NotEqual(t, r0.TxHash, r1.TxHash)

	got, err := s.GetOrigin(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Tulasi", got.Species)
	assert.Equal(t, uint8(91), got.Confidence)
	assert.Equal(t, int64(12971600), got.LatitudeFixed)
	assert.Equal(t, int64(77594600), got.LongitudeFixed)
	assert.Equal(t, int64(1_700_000_001), got.Timestamp)
	assert.Equal(t, "local-submitter", got.Submitter)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	_, err = s.GetOrigin(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteProcessingRole(t *testing.T) {
	s := newTestSQLite(t, false)
	ctx := context.Background()

	_, err := s.AppendOrigin(ctx, OriginInput{Species: "Tulasi", Confidence: 91})
	require.NoError(t, err)

	_, err = s.AppendProcessingStep(ctx, 0, "Processed", "BATCH-0-1")
	assert.ErrorIs(t, err, ErrNotProcessor)

	granted, err := s.EnsureProcessor(ctx)
	require.NoError(t, err)
	assert.True(t, granted)
	granted, err = s.EnsureProcessor(ctx)
	require.NoError(t, err)
	assert.False(t, granted)

	for _, batch := range []string{"BATCH-0-1", "BATCH-0-2"} {
		_, err := s.AppendProcessingStep(ctx, 0, "Processed", batch)
		require.NoError(t, err)
	}

	history, err := s.GetProcessingHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "BATCH-0-1", history[0].BatchNumber)
	assert.Equal(t, "BATCH-0-2", history[1].BatchNumber)
	assert.Equal(t, "local-processor", history[0].Processor)

	_, err = s.AppendProcessingStep(ctx, 9, "Processed", "BATCH-9-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteLazyRoleGrant(t *testing.T) {
	s := newTestSQLite(t, true)
	ctx := context.Background()

	_, err := s.AppendOrigin(ctx, OriginInput{Species: "Tulasi", Confidence: 91})
	require.NoError(t, err)

	has, err := s.HasProcessorRole(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.AppendProcessingStep(ctx, 0, "Processed", "BATCH-0-1")
	require.NoError(t, err)

	has, err = s.HasProcessorRole(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	granted, err := s.EnsureProcessor(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestSQLiteEmptyHistory(t *testing.T) {
	s := newTestSQLite(t, false)

	history, err := s.GetProcessingHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestSQLiteReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, SQLiteOptions{Path: path})
	require.NoError(t, err)
	_, err = s.AppendOrigin(ctx, OriginInput{Species: "Tulasi", Confidence: 91})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, SQLiteOptions{Path: path})
	require.NoError(t, err)
	defer s.Close()

	r, err := s.AppendOrigin(ctx, OriginInput{Species: "Neem", Confidence: 50})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.ID)
}

func TestSnapshotReads(t *testing.T) {
	s := newTestSQLite(t, true)
	ctx := context.Background()

	species := []string{"Tulasi", "Neem", "Aloevera", "Ashwagandha", "Betel", "Curry_Leaf", "Ginger", "Hibiscus", "Lemon", "Mint"}
	for i, sp := range species {
		_, err := s.AppendOrigin(ctx, OriginInput{Species: sp, Confidence: uint8(50 + i)})
		require.NoError(t, err)
	}
	_, err := s.AppendProcessingStep(ctx, 3, "Dried", "BATCH-3-1")
	require.NoError(t, err)

	records, err := ReadAll(ctx, s)
	require.NoError(t, err)
	require.Len(t, records, len(species))
	for i, rec := range records {
		assert.Equal(t, uint64(i), rec.ID)
		assert.Equal(t, species[i], rec.Species)
	}

	traces, err := Traces(ctx, s)
	require.NoError(t, err)
	require.Len(t, traces, len(species))
	assert.Len(t, traces[3].History, 1)
	assert.Empty(t, traces[4].History)
}

func TestBatchNumber(t *testing.T) {
	assert.Equal(t, "BATCH-4-1700000000", BatchNumber(4, time.Unix(1_700_000_000, 0)))
}

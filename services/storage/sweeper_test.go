package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mediaconv/pkg/config"
	"mediaconv/services/conversion"
	"mediaconv/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type removerMock struct {
	mu      sync.Mutex
	fail    map[string]bool
	deleted []string
}

func (m *removerMock) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[ref] {
		return errors.New("remote unavailable")
	}
	m.deleted = append(m.deleted, ref)
	return nil
}

func newTestSweeper(t *testing.T, remote Remover, batch int) (*Sweeper, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, conversion.Models()...)
	cfg := &config.Config{}
	cfg.Sweep.BatchSize = batch
	cfg.Sweep.Concurrency = 3

	return NewSweeper(SweeperParams{DB: db, Config: cfg, Remote: remote}), db
}

func seedRecords(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()
	for i, exp := range []time.Duration{-2 * time.Hour, -time.Hour, -time.Minute, time.Hour, 2 * time.Hour} {
		testutil.Seed(t, db, &conversion.ConversionRecord{
			ID:        int64(i + 1),
			AccountID: 1,
			StagedRef: refFor(i + 1),
			Format:    "mp3",
			CreatedAt: now.Add(exp - 24*time.Hour),
			ExpiresAt: now.Add(exp),
		})
	}
}

func refFor(id int) string {
	return "1/clip-" + string(rune('a'+id-1)) + ".mp3"
}

func remaining(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&conversion.ConversionRecord{}).Count(&n).Error)
	return n
}

func TestRunSweepReclaimsExpired(t *testing.T) {
	remote := &removerMock{}
	s, db := newTestSweeper(t, remote, 2)
	now := time.Now().UTC()
	seedRecords(t, db, now)

	res, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Scanned)
	require.Equal(t, int64(3), res.Reclaimed)
	require.Zero(t, res.Failed)
	require.ElementsMatch(t, []string{refFor(1), refFor(2), refFor(3)}, remote.deleted)
	require.Equal(t, int64(2), remaining(t, db))
}

func TestRunSweepIsIdempotent(t *testing.T) {
	s, db := newTestSweeper(t, &removerMock{}, 10)
	seedRecords(t, db, time.Now().UTC())

	first, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), first.Reclaimed)

	second, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Reclaimed)
	require.Zero(t, second.Scanned)
}

func TestRunSweepRetriesFailedRemoteDelete(t *testing.T) {
	remote := &removerMock{fail: map[string]bool{refFor(2): true}}
	s, db := newTestSweeper(t, remote, 10)
	seedRecords(t, db, time.Now().UTC())

	res, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Reclaimed)
	require.Equal(t, int64(1), res.Failed)
	require.Equal(t, int64(3), remaining(t, db))

	remote.mu.Lock()
	remote.fail = nil
	remote.mu.Unlock()

	res, err = s.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Reclaimed)
	require.Zero(t, res.Failed)
	require.Equal(t, int64(2), remaining(t, db))
}

func TestConcurrentSweepsCountEachRecordOnce(t *testing.T) {
	remote := &removerMock{}
	a, db := newTestSweeper(t, remote, 1)
	b := &Sweeper{records: a.records, remote: remote, batchSize: 1, concurrency: 2, now: time.Now}
	seedRecords(t, db, time.Now().UTC())

	var (
		wg         sync.WaitGroup
		resA, resB Result
	)
	wg.Add(2)
	go func() { defer wg.Done(); resA, _ = a.RunSweep(context.Background()) }()
	go func() { defer wg.Done(); resB, _ = b.RunSweep(context.Background()) }()
	wg.Wait()

	require.Equal(t, int64(3), resA.Reclaimed+resB.Reclaimed)
	require.Equal(t, int64(2), remaining(t, db))
}

func TestRunSweepOutlivesCanceledCaller(t *testing.T) {
	remote := &removerMock{}
	s, db := newTestSweeper(t, remote, 2)
	seedRecords(t, db, time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.RunSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Reclaimed)
	require.Equal(t, int64(2), remaining(t, db))
}

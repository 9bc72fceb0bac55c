package account

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mediaconv/pkg/config"
	"mediaconv/services/ledger"
	"mediaconv/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type usageMock struct {
	deleteFn func(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error)
	countFn  func(ctx context.Context) (int64, error)
}

func (m *usageMock) DeleteByAccount(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, tx, accountID)
	}
	return 0, nil
}

func (m *usageMock) CountAll(ctx context.Context) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func newTestService(t *testing.T, usage UsageStore) (*Service, *ledger.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, ledger.Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Conversion.InitialCredits = 10
	cfg.Conversion.ReferralBonus = 3

	l := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	if usage == nil {
		usage = &usageMock{}
	}
	return NewService(ServiceParams{DB: db, Ledger: l, Usage: usage, Config: cfg}), l
}

func TestEnsureCreatesWithInitialCredits(t *testing.T) {
	ctx := context.Background()
	svc, l := newTestService(t, nil)

	acc, created, err := svc.Ensure(ctx, 1, 0, "alice")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(10), acc.Credits)
	require.Nil(t, acc.ReferrerID)

	acc, created, err = svc.Ensure(ctx, 1, 0, "alice")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(10), acc.Credits)

	ok, err := l.VerifyChain(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReferralAwardedOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, _, err := svc.Ensure(ctx, 1, 0, "referrer")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		acc, _, err := svc.Ensure(ctx, 2, 1, "friend")
		require.NoError(t, err)
		require.NotNil(t, acc.ReferrerID)
		require.Equal(t, int64(1), *acc.ReferrerID)
	}

	referrer, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(13), referrer.Credits)
	require.Equal(t, int64(1), referrer.ReferralCount)
}

func TestReferralAwardedOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, _, err := svc.Ensure(ctx, 1, 0, "referrer")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Ensure(ctx, 2, 1, "friend")
		}()
	}
	wg.Wait()

	referrer, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(13), referrer.Credits)
	require.Equal(t, int64(1), referrer.ReferralCount)
}

func TestInvalidReferrersIgnored(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	self, _, err := svc.Ensure(ctx, 5, 5, "")
	require.NoError(t, err)
	require.Nil(t, self.ReferrerID)
	require.Equal(t, int64(10), self.Credits)

	orphan, _, err := svc.Ensure(ctx, 6, 999, "")
	require.NoError(t, err)
	require.Nil(t, orphan.ReferrerID)
}

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.Adjust(ctx, 1, 5)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, _, err = svc.Ensure(ctx, 1, 0, "")
	require.NoError(t, err)

	bal, err := svc.Adjust(ctx, 1, 5)
	require.NoError(t, err)
	require.Equal(t, int64(15), bal)

	bal, err = svc.Adjust(ctx, 1, -5)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal)

	_, err = svc.Adjust(ctx, 1, -11)
	require.ErrorIs(t, err, ledger.ErrInsufficientCredits)
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	var cleared int64
	svc, _ := newTestService(t, &usageMock{
		deleteFn: func(_ context.Context, tx *gorm.DB, accountID int64) (int64, error) {
			require.NotNil(t, tx)
			cleared = accountID
			return 2, nil
		},
	})

	_, _, err := svc.Ensure(ctx, 1, 0, "")
	require.NoError(t, err)
	_, _, err = svc.Ensure(ctx, 2, 1, "")
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, 1, 20)
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx, 1))

	acc, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), acc.Credits)
	require.Zero(t, acc.ReferralCount)
	require.Equal(t, int64(1), cleared)

	require.ErrorIs(t, svc.Reset(ctx, 404), ledger.ErrAccountNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &usageMock{
		countFn: func(context.Context) (int64, error) { return 4, nil },
	})

	_, _, err := svc.Ensure(ctx, 1, 0, "")
	require.NoError(t, err)
	_, _, err = svc.Ensure(ctx, 2, 0, "")
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&ledger.Account{}).
		Where("id = ?", 2).
		UpdateColumn("last_activity_at", time.Now().UTC().Add(-30*24*time.Hour)).Error)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalAccounts)
	require.Equal(t, int64(1), stats.ActiveAccounts7d)
	require.Equal(t, int64(4), stats.TotalConversions)
}

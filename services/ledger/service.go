package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaconv/pkg/db/option"
	"mediaconv/pkg/db/pagination"
	"mediaconv/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must not be zero")
	ErrConcurrentUpdate    = errors.New("balance changed concurrently")
)

// maxCASAttempts bounds the compare-and-swap loop on dialects without row locks.
const maxCASAttempts = 5

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	account repository.Repository[Account]
	entry   repository.Repository[CreditEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		account: repository.ProvideStore[Account](p.DB),
		entry:   repository.ProvideStore[CreditEntry](p.DB),
	}
}

// WithTrx binds the ledger to an outer transaction so balance changes commit
// or roll back together with the caller's writes.
func (s *Service) WithTrx(tx *gorm.DB) *Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	clone.account = s.account.WithTrx(tx)
	clone.entry = s.entry.WithTrx(tx)
	return &clone
}

func logFields(ctx context.Context, accountID int64) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.Int64("account_id", accountID),
	}
}

// Balance returns the current credits of an account.
func (s *Service) Balance(ctx context.Context, accountID int64) (int64, error) {
	acc, err := s.account.FindOne(ctx, &Account{ID: accountID})
	if err != nil {
		zap.L().With(logFields(ctx, accountID)...).Error("failed to query account", zap.Error(err))
		return 0, err
	}
	if acc == nil || accountID == 0 {
		return 0, ErrAccountNotFound
	}
	if acc.Credits < 0 {
		zap.L().With(logFields(ctx, accountID)...).Error("negative balance observed", zap.Int64("credits", acc.Credits))
	}
	return acc.Credits, nil
}

// Debit removes amount credits. It fails with ErrInsufficientCredits and
// leaves the balance untouched when the account cannot cover it.
func (s *Service) Debit(ctx context.Context, accountID, amount int64, reason Reason, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, reason, referenceID, func(int64) int64 { return -amount })
}

// Credit adds amount credits.
func (s *Service) Credit(ctx context.Context, accountID, amount int64, reason Reason, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, reason, referenceID, func(int64) int64 { return amount })
}

// Adjust applies a signed administrative change. A negative delta larger
// than the balance is refused rather than clamped.
func (s *Service) Adjust(ctx context.Context, accountID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, ReasonAdminAdjust, "", func(int64) int64 { return delta })
}

// Set moves the balance to target, journaling the difference.
func (s *Service) Set(ctx context.Context, accountID, target int64, reason Reason) (int64, error) {
	if target < 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, accountID, reason, "", func(current int64) int64 { return target - current })
}

// apply reads the balance under a row lock, writes the new value only if it
// is still the one read, and appends the journal entry in the same
// transaction.
func (s *Service) apply(ctx context.Context, accountID int64, reason Reason, referenceID string, deltaFn func(current int64) int64) (int64, error) {
	var balance int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accounts := s.account.WithTrx(tx)

		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			acc, err := accounts.FindOne(ctx, &Account{ID: accountID}, option.WithLockingUpdate())
			if err != nil {
				return err
			}
			if acc == nil || accountID == 0 {
				return ErrAccountNotFound
			}

			delta := deltaFn(acc.Credits)
			next := acc.Credits + delta
			if next < 0 {
				return fmt.Errorf("%w: balance %d, required %d", ErrInsufficientCredits, acc.Credits, -delta)
			}

			now := s.now().UTC()
			res := tx.Model(&Account{}).
				Where("id = ? AND credits = ?", accountID, acc.Credits).
				Updates(map[string]any{"credits": next, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				zap.L().With(logFields(ctx, accountID)...).Debug("balance moved underneath, retrying", zap.Int("attempt", attempt+1))
				continue
			}

			if delta != 0 {
				if err := s.appendEntry(ctx, tx, accountID, delta, next, reason, referenceID, now); err != nil {
					return err
				}
			}

			balance = next
			return nil
		}

		return ErrConcurrentUpdate
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientCredits) && !errors.Is(err, ErrAccountNotFound) {
			zap.L().With(logFields(ctx, accountID)...).Error("failed to apply balance change", zap.String("reason", string(reason)), zap.Error(err))
		}
		return 0, err
	}

	return balance, nil
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, accountID, delta, balanceAfter int64, reason Reason, referenceID string, now time.Time) error {
	entries := s.entry.WithTrx(tx)

	last, err := entries.FindOne(ctx, &CreditEntry{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}))
	if err != nil {
		return err
	}

	var prev string
	if last != nil {
		prev = last.Hash
	}

	var meta datatypes.JSON
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		meta = datatypes.JSON(fmt.Sprintf(`{"trace_id":%q}`, sc.TraceID().String()))
	}

	entry := newCreditEntry(entryParams{
		ID:           s.node.Generate().Int64(),
		AccountID:    accountID,
		Delta:        delta,
		Reason:       reason,
		BalanceAfter: balanceAfter,
		ReferenceID:  referenceID,
		PreviousHash: prev,
		Metadata:     meta,
		CreatedAt:    now,
	})

	return entries.Create(ctx, entry)
}

// ListEntries pages through an account's journal, newest first. The cursor is
// the id of the last entry of the previous page.
func (s *Service) ListEntries(ctx context.Context, accountID int64, page pagination.Pagination) ([]*CreditEntry, *pagination.PageInfo, error) {
	limit := page.Size()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{OrderBy: "desc"}),
		option.ApplyPagination(pagination.Pagination{Limit: limit + 1}),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid cursor: %w", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.LT, Value: cursor.ID}))
	}

	entries, err := s.entry.Find(ctx, &CreditEntry{AccountID: accountID}, opts...)
	if err != nil {
		zap.L().With(logFields(ctx, accountID)...).Error("failed to list entries", zap.Error(err))
		return nil, nil, err
	}

	info := pagination.BuildCursorPageInfo(entries, limit, func(e *CreditEntry) int64 { return e.ID })
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, info, nil
}

// VerifyChain recomputes every entry hash of the account and checks that
// each links to its predecessor and that balances add up.
func (s *Service) VerifyChain(ctx context.Context, accountID int64) (bool, error) {
	entries, err := s.entry.Find(ctx, &CreditEntry{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
	if err != nil {
		zap.L().With(logFields(ctx, accountID)...).Error("failed to query entries", zap.Error(err))
		return false, err
	}

	prev := genesisHash
	var running int64
	for _, e := range entries {
		running += e.Delta()
		if e.PreviousHash != prev || e.Hash != e.GenerateHash() || e.BalanceAfter != running {
			zap.L().With(logFields(ctx, accountID)...).Warn("credit chain broken", zap.Int64("entry_id", e.ID))
			return false, nil
		}
		prev = e.Hash
	}

	return true, nil
}

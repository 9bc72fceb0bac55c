package account

import (
	"context"
	"errors"
	"strconv"
	"time"

	"mediaconv/pkg/config"
	"mediaconv/pkg/db/option"
	"mediaconv/pkg/repository"
	"mediaconv/services/ledger"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeWindow = 7 * 24 * time.Hour

// UsageStore is the part of the daily usage counter the account service needs
// for reset and stats.
type UsageStore interface {
	DeleteByAccount(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

type Stats struct {
	TotalAccounts    int64 `json:"total_accounts"`
	ActiveAccounts7d int64 `json:"active_accounts_7d"`
	TotalConversions int64 `json:"total_conversions"`
}

type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	usage  UsageStore
	policy config.Conversion
	now    func() time.Time

	account repository.Repository[ledger.Account]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Ledger *ledger.Service
	Usage  UsageStore
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		ledger: p.Ledger,
		usage:  p.Usage,
		policy: p.Config.Conversion,
		now:    time.Now,

		account: repository.ProvideStore[ledger.Account](p.DB),
	}
}

func logFields(ctx context.Context, accountID int64) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.Int64("account_id", accountID),
	}
}

// Ensure creates the account on first contact and otherwise records activity.
// A referral bonus is paid only by the call that actually inserted the row,
// so replays and concurrent first contacts cannot award it twice. Referrers
// that are unknown or equal to the account are ignored.
func (s *Service) Ensure(ctx context.Context, accountID, referrerID int64, displayName string) (*ledger.Account, bool, error) {
	if accountID == 0 {
		return nil, false, ledger.ErrAccountNotFound
	}

	var (
		acc     *ledger.Account
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		accounts := s.account.WithTrx(tx)
		now := s.now().UTC()

		var referrer *int64
		if referrerID != 0 && referrerID != accountID {
			ref, err := accounts.FindOne(ctx, &ledger.Account{ID: referrerID})
			if err != nil {
				return err
			}
			if ref != nil {
				referrer = &referrerID
			}
		}

		row := &ledger.Account{
			ID:             accountID,
			DisplayName:    displayName,
			ReferrerID:     referrer,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1

		if !created {
			return tx.Model(&ledger.Account{}).
				Where("id = ?", accountID).
				UpdateColumn("last_activity_at", now).Error
		}

		ledgerTx := s.ledger.WithTrx(tx)
		if s.policy.InitialCredits > 0 {
			if _, err := ledgerTx.Credit(ctx, accountID, s.policy.InitialCredits, ledger.ReasonSignup, ""); err != nil {
				return err
			}
		}

		if referrer != nil {
			if err := tx.Model(&ledger.Account{}).
				Where("id = ?", referrerID).
				UpdateColumn("referral_count", gorm.Expr("referral_count + 1")).Error; err != nil {
				return err
			}
			if s.policy.ReferralBonus > 0 {
				ref := strconv.FormatInt(accountID, 10)
				if _, err := ledgerTx.Credit(ctx, referrerID, s.policy.ReferralBonus, ledger.ReasonReferralBonus, ref); err != nil {
					return err
				}
			}
			zap.L().With(logFields(ctx, accountID)...).Info("referral recorded", zap.Int64("referrer_id", referrerID))
		}

		return nil
	})
	if err != nil {
		zap.L().With(logFields(ctx, accountID)...).Error("failed to ensure account", zap.Error(err))
		return nil, false, err
	}

	acc, err = s.account.FindOne(ctx, &ledger.Account{ID: accountID})
	if err != nil {
		return nil, false, err
	}
	if acc == nil {
		return nil, false, ledger.ErrAccountNotFound
	}

	return acc, created, nil
}

func (s *Service) Get(ctx context.Context, accountID int64) (*ledger.Account, error) {
	acc, err := s.account.FindOne(ctx, &ledger.Account{ID: accountID})
	if err != nil {
		return nil, err
	}
	if acc == nil || accountID == 0 {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	return s.ledger.Balance(ctx, accountID)
}

// Adjust applies a signed administrative credit change.
func (s *Service) Adjust(ctx context.Context, accountID, delta int64) (int64, error) {
	balance, err := s.ledger.Adjust(ctx, accountID, delta)
	if err != nil {
		return 0, err
	}
	zap.L().With(logFields(ctx, accountID)...).Info("credits adjusted", zap.Int64("delta", delta), zap.Int64("balance", balance))
	return balance, nil
}

// Reset returns an account to its signup state. Identity, referrer and
// conversion records are kept.
func (s *Service) Reset(ctx context.Context, accountID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.WithTrx(tx).Set(ctx, accountID, s.policy.InitialCredits, ledger.ReasonAdminReset); err != nil {
			return err
		}

		if err := tx.Model(&ledger.Account{}).
			Where("id = ?", accountID).
			UpdateColumn("referral_count", 0).Error; err != nil {
			return err
		}

		_, err := s.usage.DeleteByAccount(ctx, tx, accountID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			zap.L().With(logFields(ctx, accountID)...).Error("failed to reset account", zap.Error(err))
		}
		return err
	}

	zap.L().With(logFields(ctx, accountID)...).Info("account reset")
	return nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.account.Count(ctx, nil)
	if err != nil {
		return Stats{}, err
	}

	since := s.now().UTC().Add(-activeWindow)
	active, err := s.account.Count(ctx, nil, option.ApplyOperator(option.Condition{
		Field:    "last_activity_at",
		Operator: option.GTE,
		Value:    since,
	}))
	if err != nil {
		return Stats{}, err
	}

	conversions, err := s.usage.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalAccounts:    total,
		ActiveAccounts7d: active,
		TotalConversions: conversions,
	}, nil
}

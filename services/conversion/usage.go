package conversion

import (
	"context"
	"time"

	"mediaconv/pkg/db/option"
	"mediaconv/pkg/repository"

	"gorm.io/gorm"
)

// UsageRepository is the daily usage counter. Usage rows outlive the staged
// artifacts so a short retention window never frees quota early.
type UsageRepository struct {
	usage repository.Repository[ConversionUsage]
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{usage: repository.ProvideStore[ConversionUsage](db)}
}

// CountSince counts the account's conversions at or after since.
func (r *UsageRepository) CountSince(ctx context.Context, accountID int64, since time.Time) (int64, error) {
	return r.usage.Count(ctx, &ConversionUsage{AccountID: accountID}, option.ApplyOperator(option.Condition{
		Field:    "created_at",
		Operator: option.GTE,
		Value:    since.UTC(),
	}))
}

func (r *UsageRepository) Append(ctx context.Context, tx *gorm.DB, u *ConversionUsage) error {
	return r.usage.WithTrx(tx).Create(ctx, u)
}

func (r *UsageRepository) DeleteByAccount(ctx context.Context, tx *gorm.DB, accountID int64) (int64, error) {
	return r.usage.WithTrx(tx).Delete(ctx, &ConversionUsage{AccountID: accountID})
}

func (r *UsageRepository) CountAll(ctx context.Context) (int64, error) {
	return r.usage.Count(ctx, nil)
}

// startOfDay is midnight of now's calendar day in loc.
func startOfDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

package storage

import (
	"context"
	"sync/atomic"
	"time"

	"mediaconv/pkg/config"
	"mediaconv/pkg/db/option"
	"mediaconv/pkg/db/pagination"
	"mediaconv/pkg/repository"
	"mediaconv/services/conversion"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	sweepReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediaconv_sweep_reclaimed_total",
		Help: "Staged artifacts removed after their retention window.",
	})
	sweepFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediaconv_sweep_failed_total",
		Help: "Expired artifacts whose remote delete failed and will be retried.",
	})
)

func init() {
	prometheus.MustRegister(sweepReclaimed, sweepFailed)
}

// Remover deletes staged objects. Deleting a missing object is not an error.
type Remover interface {
	Delete(ctx context.Context, ref string) error
}

type Result struct {
	Scanned   int64 `json:"scanned"`
	Reclaimed int64 `json:"reclaimed"`
	Failed    int64 `json:"failed"`
}

type Sweeper struct {
	records     repository.Repository[conversion.ConversionRecord]
	remote      Remover
	batchSize   int
	concurrency int
	now         func() time.Time

	inflight singleflight.Group
}

type SweeperParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Remote Remover
}

func NewSweeper(p SweeperParams) *Sweeper {
	batch := p.Config.Sweep.BatchSize
	if batch <= 0 {
		batch = 500
	}
	workers := p.Config.Sweep.Concurrency
	if workers <= 0 {
		workers = 4
	}

	return &Sweeper{
		records:     repository.ProvideStore[conversion.ConversionRecord](p.DB),
		remote:      p.Remote,
		batchSize:   batch,
		concurrency: workers,
		now:         time.Now,
	}
}

// RunSweep reclaims every record whose retention window has passed. The
// remote object goes first; a record whose object could not be deleted stays
// for the next run. Overlapping calls share one pass, which outlives the
// caller that started it.
func (s *Sweeper) RunSweep(ctx context.Context) (Result, error) {
	v, err, shared := s.inflight.Do("sweep", func() (any, error) {
		return s.sweep(context.WithoutCancel(ctx))
	})
	if shared {
		zap.L().Debug("sweep already running, joined it")
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	var (
		res       Result
		reclaimed atomic.Int64
		failed    atomic.Int64
		lastID    int64
	)

	cutoff := s.now().UTC()
	start := time.Now()

	for {
		batch, err := s.records.Find(ctx, nil,
			option.ApplyOperator(
				option.Condition{Field: "expires_at", Operator: option.LTE, Value: cutoff},
				option.Condition{Field: "id", Operator: option.GT, Value: lastID},
			),
			option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}),
			option.ApplyPagination(pagination.Pagination{Limit: s.batchSize}),
		)
		if err != nil {
			zap.L().Error("failed to select expired records", zap.Error(err))
			return res, err
		}
		if len(batch) == 0 {
			break
		}
		res.Scanned += int64(len(batch))
		lastID = batch[len(batch)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, rec := range batch {
			g.Go(func() error {
				ok, err := s.reclaim(gctx, rec)
				switch {
				case err != nil:
					failed.Add(1)
					sweepFailed.Inc()
				case ok:
					reclaimed.Add(1)
					sweepReclaimed.Inc()
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(batch) < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	res.Reclaimed = reclaimed.Load()
	res.Failed = failed.Load()

	zap.L().Info("storage sweep finished",
		zap.Int64("scanned", res.Scanned),
		zap.Int64("reclaimed", res.Reclaimed),
		zap.Int64("failed", res.Failed),
		zap.Duration("took", time.Since(start)),
	)

	return res, ctx.Err()
}

// reclaim reports whether this call removed the record.
func (s *Sweeper) reclaim(ctx context.Context, rec *conversion.ConversionRecord) (bool, error) {
	log := zap.L().With(zap.Int64("record_id", rec.ID), zap.String("staged_ref", rec.StagedRef))

	if err := s.remote.Delete(ctx, rec.StagedRef); err != nil {
		log.Warn("remote delete failed, will retry next sweep", zap.Error(err))
		return false, err
	}

	n, err := s.records.Delete(ctx, &conversion.ConversionRecord{ID: rec.ID})
	if err != nil {
		log.Error("failed to delete record", zap.Error(err))
		return false, err
	}

	return n > 0, nil
}

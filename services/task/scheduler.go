package task

import (
	"context"

	"mediaconv/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSweepSchedule = "@hourly"

type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewScheduler registers the periodic storage sweep. An empty schedule
// falls back to hourly; "off" disables it.
func NewScheduler(lc fx.Lifecycle, cfg *config.Config, svc *Service) (*Scheduler, error) {
	schedule := cfg.Sweep.Schedule
	if schedule == "" {
		schedule = defaultSweepSchedule
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Conversion.Location())),
		service:  svc,
		schedule: schedule,
	}
	if schedule == "off" {
		zap.L().Info("sweep scheduler disabled")
		return s, nil
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("sweep scheduler started", zap.String("schedule", schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})

	return s, nil
}

func (s *Scheduler) tick() {
	if _, err := s.service.EnqueueSweep(context.Background()); err != nil {
		zap.L().Error("scheduled sweep failed", zap.Error(err))
	}
}

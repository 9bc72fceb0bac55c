package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	asynqtask "mediaconv/pkg/task"
	"mediaconv/pkg/taskname"
	"mediaconv/services/storage"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("job not found")

const sweepLockTTL = time.Hour

// Sweeper runs one storage reclamation pass.
type Sweeper interface {
	RunSweep(ctx context.Context) (storage.Result, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer asynqtask.Enqueuer
	sweeper  Sweeper
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer asynqtask.Enqueuer `optional:"true"`
	Sweeper  Sweeper
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		sweeper:  p.Sweeper,
		now:      time.Now,
	}
}

// EnqueueSweep records a pending job and hands it to the queue. Without a
// queue the sweep runs inline. The queued task carries no payload, so the
// uniqueness lock covers every sweep while one is still waiting or running.
func (s *Service) EnqueueSweep(ctx context.Context) (*Job, error) {
	job, err := s.createJob(ctx)
	if err != nil {
		return nil, err
	}

	if s.enqueuer == nil {
		if _, err := s.RunSweepJob(ctx, job.ID); err != nil {
			return nil, err
		}
		return s.getJob(ctx, job.ID)
	}

	info, err := s.enqueuer.Enqueue(ctx,
		asynq.NewTask(taskname.StorageSweep, nil),
		asynq.Queue(asynqtask.QueueMaintenance),
		asynq.Unique(sweepLockTTL),
		asynq.MaxRetry(3),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			zap.L().Info("sweep already queued, skipping", zap.Int64("job_id", job.ID))
			job.Status = JobSkipped
			return job, s.finish(ctx, job.ID, JobSkipped, "already queued", nil)
		}
		zap.L().Error("failed to enqueue sweep", zap.Int64("job_id", job.ID), zap.Error(err))
		_ = s.finish(ctx, job.ID, JobFailed, err.Error(), nil)
		return nil, err
	}

	job.QueueTaskID = info.ID
	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).
		Update("queue_task_id", info.ID).Error; err != nil {
		zap.L().Warn("failed to store queue task id", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	zap.L().Info("sweep enqueued", zap.Int64("job_id", job.ID), zap.String("task_id", info.ID))
	return job, nil
}

// HandleSweepTask is the queue worker entry point. It runs the oldest pending
// sweep job, or a fresh one when a retry finds none left.
func (s *Service) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	job, err := s.nextSweepJob(ctx)
	if err != nil {
		return err
	}

	_, err = s.RunSweepJob(ctx, job.ID)
	if errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (s *Service) createJob(ctx context.Context) (*Job, error) {
	job := &Job{
		ID:       s.node.Generate().Int64(),
		TaskName: taskname.StorageSweep,
		Status:   JobPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		zap.L().Error("failed to create sweep job", zap.Error(err))
		return nil, err
	}
	return job, nil
}

func (s *Service) nextSweepJob(ctx context.Context) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("task_name = ? AND status = ?", taskname.StorageSweep, JobPending).
		Order("id asc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.createJob(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RunSweepJob runs the sweep for an existing job and stores its outcome.
func (s *Service) RunSweepJob(ctx context.Context, jobID int64) (storage.Result, error) {
	log := zap.L().With(zap.Int64("job_id", jobID))

	started := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"status": JobRunning, "started_at": started})
	if res.Error != nil {
		log.Error("failed to mark job running", zap.Error(res.Error))
		return storage.Result{}, res.Error
	}
	if res.RowsAffected == 0 {
		return storage.Result{}, ErrJobNotFound
	}

	result, err := s.sweeper.RunSweep(ctx)
	meta, _ := json.Marshal(result)

	if err != nil {
		log.Error("sweep job failed", zap.Error(err))
		_ = s.finish(context.WithoutCancel(ctx), jobID, JobFailed, err.Error(), meta)
		return result, err
	}

	log.Info("sweep job completed",
		zap.Int64("scanned", result.Scanned),
		zap.Int64("reclaimed", result.Reclaimed),
		zap.Int64("failed", result.Failed),
	)
	return result, s.finish(ctx, jobID, JobSuccess, "", meta)
}

func (s *Service) finish(ctx context.Context, jobID int64, status JobStatus, msg string, meta []byte) error {
	updates := map[string]any{
		"status":       status,
		"error_msg":    msg,
		"completed_at": s.now().UTC(),
	}
	if meta != nil {
		updates["metadata"] = datatypes.JSON(meta)
	}
	err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error
	if err != nil {
		zap.L().Error("failed to update job status", zap.Int64("job_id", jobID), zap.String("status", string(status)), zap.Error(err))
	}
	return err
}

func (s *Service) getJob(ctx context.Context, jobID int64) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var jobs []Job
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&jobs).Error
	return jobs, err
}

package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediaconv/pkg/config"
	"mediaconv/pkg/ffmpeg"
	"mediaconv/pkg/repository"
	"mediaconv/services/account"
	"mediaconv/services/ledger"
	"mediaconv/services/session"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("mediaconv/services/conversion")

type BeginSessionRequest struct {
	AccountID   int64  `json:"-" validate:"required"`
	ReferrerID  int64  `json:"referrer_id,omitempty"`
	SourceRef   string `json:"source_ref" validate:"required"`
	MediaKind   string `json:"media_kind" validate:"required"`
	DisplayName string `json:"display_name"`
	ByteSize    int64  `json:"byte_size" validate:"gte=0"`
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	validate *validator.Validate
	policy   config.Conversion
	location *time.Location
	now      func() time.Time

	accounts   *account.Service
	ledger     *ledger.Service
	sessions   session.Store
	usage      *UsageRepository
	records    repository.Repository[ConversionRecord]
	fetcher    Fetcher
	transcoder Transcoder
	store      ObjectStore
	gate       FormatGate
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Accounts   *account.Service
	Ledger     *ledger.Service
	Sessions   session.Store
	Usage      *UsageRepository
	Fetcher    Fetcher
	Transcoder Transcoder
	Store      ObjectStore
	Gate       FormatGate `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	loc := p.Config.Conversion.Location()

	return &Service{
		db:       p.DB,
		node:     p.Node,
		validate: validator.New(),
		policy:   p.Config.Conversion,
		location: loc,
		now:      time.Now,

		accounts:   p.Accounts,
		ledger:     p.Ledger,
		sessions:   p.Sessions,
		usage:      p.Usage,
		records:    repository.ProvideStore[ConversionRecord](p.DB),
		fetcher:    p.Fetcher,
		transcoder: p.Transcoder,
		store:      p.Store,
		gate:       p.Gate,
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

// Formats lists the output formats offered for a media kind.
func (s *Service) Formats(kind string) ([]string, error) {
	k := ffmpeg.MediaKind(strings.ToLower(kind))
	if !k.Valid() {
		return nil, reject(ReasonUnsupportedMedia, "%q", kind)
	}
	return ffmpeg.Formats(k), nil
}

// BeginSession registers an upload. The account is created on first contact,
// and any live session of the account is replaced.
func (s *Service) BeginSession(ctx context.Context, req BeginSessionRequest) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "conversion.BeginSession", trace.WithAttributes(attribute.Int64("account_id", req.AccountID)))
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	if _, _, err := s.accounts.Ensure(ctx, req.AccountID, req.ReferrerID, req.DisplayName); err != nil {
		return nil, err
	}

	kind := ffmpeg.MediaKind(strings.ToLower(req.MediaKind))
	if !kind.Valid() {
		return nil, reject(ReasonUnsupportedMedia, "%q", req.MediaKind)
	}
	if req.ByteSize > s.policy.MaxFileSizeBytes {
		return nil, reject(ReasonFileTooLarge, "%d bytes, limit %d", req.ByteSize, s.policy.MaxFileSizeBytes)
	}

	sess := &session.Session{
		ID:          s.node.Generate().Int64(),
		AccountID:   req.AccountID,
		SourceRef:   req.SourceRef,
		MediaKind:   string(kind),
		DisplayName: req.DisplayName,
		ByteSize:    req.ByteSize,
	}
	if err := s.sessions.Open(ctx, sess, s.policy.SessionTTL); err != nil {
		return nil, err
	}

	zap.L().With(logFields(ctx, req.AccountID)...).Info("session opened",
		zap.Int64("session_id", sess.ID), zap.String("media_kind", sess.MediaKind), zap.Int64("byte_size", sess.ByteSize))

	return sess, nil
}

func (s *Service) CancelSession(ctx context.Context, accountID int64) error {
	if err := s.sessions.Cancel(ctx, accountID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// checkPolicy runs every rejection rule against a session without mutating
// anything.
func (s *Service) checkPolicy(ctx context.Context, sess *session.Session, format string) (ffmpeg.Profile, error) {
	profile, err := ffmpeg.ProfileFor(ffmpeg.MediaKind(sess.MediaKind), format)
	if err != nil {
		return ffmpeg.Profile{}, reject(ReasonUnsupportedFormat, "%s for %s", format, sess.MediaKind)
	}
	if s.gate != nil && !s.gate.FormatEnabled(ctx, sess.AccountID, format) {
		return ffmpeg.Profile{}, reject(ReasonUnsupportedFormat, "%s is disabled", format)
	}

	balance, err := s.ledger.Balance(ctx, sess.AccountID)
	if err != nil {
		return ffmpeg.Profile{}, err
	}
	if balance < s.policy.CostPerConversion {
		return ffmpeg.Profile{}, reject(ReasonInsufficientCredits, "balance %d, cost %d", balance, s.policy.CostPerConversion)
	}

	used, err := s.usage.CountSince(ctx, sess.AccountID, startOfDay(s.now(), s.location))
	if err != nil {
		return ffmpeg.Profile{}, err
	}
	if used >= s.policy.DailyLimit {
		return ffmpeg.Profile{}, reject(ReasonDailyLimitReached, "%d of %d used today", used, s.policy.DailyLimit)
	}

	if sess.ByteSize > s.policy.MaxFileSizeBytes {
		return ffmpeg.Profile{}, reject(ReasonFileTooLarge, "%d bytes, limit %d", sess.ByteSize, s.policy.MaxFileSizeBytes)
	}

	return profile, nil
}

// SelectFormat consumes the account's session and runs the pipeline. Policy
// rejections leave the session in place so the user can pick another format.
func (s *Service) SelectFormat(ctx context.Context, accountID int64, format string) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "conversion.SelectFormat", trace.WithAttributes(
		attribute.Int64("account_id", accountID),
		attribute.String("format", format),
	))
	defer span.End()

	format = strings.ToLower(strings.TrimSpace(format))
	defer func() {
		outcome := string(StateDelivered)
		var rej *RejectionError
		switch {
		case errors.As(err, &rej):
			outcome = string(rej.Reason)
		case err != nil:
			outcome = string(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		conversionsTotal.WithLabelValues(formatLabel(format), outcome).Inc()
	}()

	sess, err := s.sessions.Get(ctx, accountID)
	if err != nil {
		return nil, s.sessionErr(err)
	}

	profile, err := s.checkPolicy(ctx, sess, format)
	if err != nil {
		return nil, err
	}

	taken, err := s.sessions.TakeAndClear(ctx, accountID)
	if err != nil {
		return nil, s.sessionErr(err)
	}
	if taken.ID != sess.ID {
		// a newer upload replaced the one we validated
		profile, err = s.checkPolicy(ctx, taken, format)
		if err != nil {
			s.restore(ctx, taken)
			return nil, err
		}
	}

	return s.run(ctx, taken, profile)
}

func (s *Service) sessionErr(err error) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// restore puts back a session that was taken but then rejected. An upload
// that landed in the meantime is left in place.
func (s *Service) restore(ctx context.Context, sess *session.Session) {
	log := zap.L().With(logFields(ctx, sess.AccountID)...).With(zap.Int64("session_id", sess.ID))

	ok, err := s.sessions.Restore(ctx, sess)
	if err != nil {
		log.Warn("failed to restore session", zap.Error(err))
		return
	}
	if !ok {
		log.Debug("session not restored, slot taken or expired")
	}
}

func (s *Service) run(ctx context.Context, sess *session.Session, profile ffmpeg.Profile) (*Outcome, error) {
	log := zap.L().With(logFields(ctx, sess.AccountID)...).With(zap.Int64("session_id", sess.ID), zap.String("format", profile.Name))

	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp(s.policy.WorkDir, "conv-*")
	if err != nil {
		return nil, fail(StateDownloaded, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	srcPath := filepath.Join(workDir, "source")
	err = s.step(ctx, StateDownloaded, func(ctx context.Context) error {
		_, err := s.fetcher.Fetch(ctx, sess.SourceRef, srcPath)
		return err
	})
	if err != nil {
		log.Warn("download failed", zap.Error(err))
		return nil, fail(StateDownloaded, err)
	}

	outPath := filepath.Join(workDir, "output."+profile.Extension)
	err = s.step(ctx, StateTranscoded, func(ctx context.Context) error {
		return s.transcoder.Transcode(ctx, srcPath, outPath, profile)
	})
	if err != nil {
		log.Warn("transcode failed", zap.Error(err))
		return nil, fail(StateTranscoded, err)
	}

	record, err := s.stage(ctx, sess, profile, outPath)
	if err != nil {
		log.Warn("stage failed", zap.Error(err))
		return nil, fail(StateStaged, err)
	}

	// the artifact is staged; settle and deliver even if the caller gave up
	ctx = context.WithoutCancel(ctx)

	balance, err := s.settle(ctx, record)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			log.Warn("balance drained while converting, record left to the sweep", zap.Int64("record_id", record.ID))
			return nil, reject(ReasonInsufficientCredits, "balance drained during conversion")
		}
		log.Error("failed to settle conversion", zap.Int64("record_id", record.ID), zap.Error(err))
		return nil, err
	}

	downloadURL, err := s.store.URL(ctx, record.StagedRef, s.policy.RetentionWindow)
	if err != nil {
		log.Warn("failed to build download url", zap.String("staged_ref", record.StagedRef), zap.Error(err))
	}

	log.Info("conversion delivered", zap.Int64("record_id", record.ID), zap.Int64("balance", balance))

	return &Outcome{
		SessionID:   sess.ID,
		RecordID:    record.ID,
		Format:      profile.Name,
		StagedRef:   record.StagedRef,
		DownloadURL: downloadURL,
		ExpiresAt:   record.ExpiresAt,
		Balance:     balance,
		State:       StateDelivered,
	}, nil
}

func (s *Service) step(ctx context.Context, state State, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "conversion."+string(state))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	stepDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// stage uploads the artifact and records it. A record that cannot be written
// takes the remote object down with it.
func (s *Service) stage(ctx context.Context, sess *session.Session, profile ffmpeg.Profile, outPath string) (*ConversionRecord, error) {
	var record *ConversionRecord

	err := s.step(ctx, StateStaged, func(ctx context.Context) error {
		info, err := os.Stat(outPath)
		if err != nil {
			return err
		}

		profileJSON, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}

		ref, err := s.store.Put(ctx, objectKey(sess, profile), outPath, profile.ContentType)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		record = &ConversionRecord{
			ID:        s.node.Generate().Int64(),
			AccountID: sess.AccountID,
			SourceRef: sess.SourceRef,
			StagedRef: ref,
			Format:    profile.Name,
			Profile:   datatypes.JSON(profileJSON),
			ByteSize:  info.Size(),
			CreatedAt: now,
			ExpiresAt: now.Add(s.policy.RetentionWindow),
		}

		if err := s.records.Create(ctx, record); err != nil {
			if delErr := s.store.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
				zap.L().With(logFields(ctx, sess.AccountID)...).Error("orphaned staged object",
					zap.String("staged_ref", ref), zap.Error(delErr))
			}
			return fmt.Errorf("record staged object: %w", err)
		}
		return nil
	})

	return record, err
}

// settle charges the conversion and counts it against the daily limit in one
// transaction.
func (s *Service) settle(ctx context.Context, record *ConversionRecord) (int64, error) {
	var balance int64

	err := s.step(ctx, StateSettled, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			balance, err = s.ledger.WithTrx(tx).Debit(ctx, record.AccountID, s.policy.CostPerConversion,
				ledger.ReasonConversion, strconv.FormatInt(record.ID, 10))
			if err != nil {
				return err
			}

			return s.usage.Append(ctx, tx, &ConversionUsage{
				ID:        s.node.Generate().Int64(),
				AccountID: record.AccountID,
				RecordID:  record.ID,
				Format:    record.Format,
				CreatedAt: s.now().UTC(),
			})
		})
	})

	return balance, err
}

// formatLabel keeps arbitrary user input out of metric labels.
func formatLabel(format string) string {
	for _, kind := range []ffmpeg.MediaKind{ffmpeg.Video, ffmpeg.Audio} {
		for _, f := range ffmpeg.Formats(kind) {
			if f == format {
				return f
			}
		}
	}
	return "other"
}

// objectKey is "<account>/<slug>-<uuid>.<ext>".
func objectKey(sess *session.Session, profile ffmpeg.Profile) string {
	base := strings.TrimSuffix(sess.DisplayName, filepath.Ext(sess.DisplayName))
	name := slug.Make(base)
	if name == "" {
		name = "media"
	}
	return fmt.Sprintf("%d/%s-%s-%s.%s", sess.AccountID, name, profile.Name, uuid.NewString(), profile.Extension)
}

package guildsync

import (
	"context"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/guildsync_backend/config"
	"bitbucket.org/mmdatafocus/guildsync_backend/models"
	"bitbucket.org/mmdatafocus/guildsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RetryScheduler re-enqueues ledger rows whose rate-limit deferral has
// elapsed. It publishes key-only change events so the engine re-diffs
// against live remote state rather than trusting anything stale.
type RetryScheduler struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	GuildId string

	PollInterval time.Duration
	BatchSize    int
}

func NewRetryScheduler(db *gorm.DB, logger *logrus.Logger) *RetryScheduler {
	return &RetryScheduler{
		DB:           db,
		Logger:       logger,
		GuildId:      config.GetGuildId(),
		PollInterval: config.GetSyncScheduleInterval(),
		BatchSize:    50,
	}
}

func (s *RetryScheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

func (s *RetryScheduler) dispatchOnce(ctx context.Context) {
	recs, err := models.ListDueRetrySyncRecords(ctx, s.DB, s.GuildId, time.Now(), s.BatchSize)
	if err != nil {
		config.LogError(s.Logger, "scheduler.go", "dispatchOnce", "listing due retries", nil, err)
		return
	}

	for _, rec := range recs {
		id, err := strconv.Atoi(rec.EntityId)
		if err != nil {
			continue
		}
		after := utils.MustMarshal(map[string]int{"id": id})
		ev := ChangeEvent{
			EntityType: rec.EntityType,
			Operation:  OpUpdate,
			After:      after,
			GuildId:    s.GuildId,
		}
		if data := models.DecodeSyncRecordData(rec.DataJSON); data.CorrelationId != "" {
			ev.CorrelationId = data.CorrelationId
		}
		if err := PublishChangeEvent(ctx, ev); err != nil {
			config.LogError(s.Logger, "scheduler.go", "dispatchOnce", "publishing retry event", rec.EntityId, err)
			continue
		}
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"module":     "guildsync",
				"entityId":   rec.EntityId,
				"entityType": rec.EntityType,
			}).Info("re-enqueued deferred sync")
		}
	}
}

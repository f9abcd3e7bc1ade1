package jobs

import (
	"log/slog"
	"time"

	"statsnap/internal/config"
	"statsnap/internal/database"
	"statsnap/internal/events"
	"statsnap/internal/metrics"
	"statsnap/internal/timeframe"
)

// CleanupJob prunes metrics and events past the retention horizon
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes daily metrics (with their pages and referrers) and events older
// than the retention period, for every account.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.MetricsRetentionDays
	if retentionDays <= 0 {
		j.logger.Debug("Metrics retention disabled, skipping cleanup")
		return nil
	}

	db := j.dbManager.GetConnection()
	cutoff := timeframe.FormatDay(time.Now().UTC().AddDate(0, 0, -retentionDays))

	j.logger.Info("Starting cleanup of old metrics",
		slog.Int("retention_days", retentionDays),
		slog.String("cutoff_date", cutoff))

	// Prune for every user with stored data, not just currently connected
	// ones, so disconnected accounts age out too.
	var userIDs []string
	if err := db.Model(&metrics.DailyMetric{}).Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return err
	}

	var metricsDeleted int64
	for _, userID := range userIDs {
		deleted, err := metrics.DeleteOlderThan(db, j.logger, userID, cutoff)
		if err != nil {
			j.logger.Error("Failed to prune metrics",
				slog.String("userID", userID),
				slog.Any("error", err))
			continue
		}
		metricsDeleted += deleted
	}

	eventsDeleted, err := events.DeleteOlderThan(db, j.logger, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune events", slog.Any("error", err))
		return err
	}

	j.logger.Info("Cleanup completed",
		slog.Int64("metrics_deleted", metricsDeleted),
		slog.Int64("events_deleted", eventsDeleted),
		slog.Int("retention_days", retentionDays))

	return nil
}

// Package metrics stores the analytics rows pulled from GA4: one DailyMetric
// row per user per calendar day, with TopPage and Referrer child rows owned by
// that day. Writes are keyed upserts; (user_id, date) is the natural key.
package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"statsnap/internal/timeframe"
)

// DailyMetric is one user's traffic summary for a single calendar day.
type DailyMetric struct {
	ID                 uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             string  `gorm:"uniqueIndex:idx_daily_user_date;size:64;not null" json:"user_id"`
	Date               string  `gorm:"uniqueIndex:idx_daily_user_date;size:10;not null" json:"date"` // YYYY-MM-DD
	Visitors           int     `gorm:"not null;default:0" json:"visitors"`
	PageViews          int     `gorm:"not null;default:0" json:"page_views"`
	AvgSessionDuration float64 `gorm:"not null;default:0" json:"avg_session_duration"` // seconds
	BounceRate         float64 `gorm:"not null;default:0" json:"bounce_rate"`          // 0-100
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName specifies the table name for GORM
func (DailyMetric) TableName() string {
	return "daily_metrics"
}

// TopPage is a per-day top-10 page entry owned by one DailyMetric.
type TopPage struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DailyMetricID uint   `gorm:"index;not null" json:"daily_metric_id"`
	PagePath      string `gorm:"not null" json:"page_path"`
	PageViews     int    `gorm:"not null;default:0" json:"page_views"`
	CreatedAt     time.Time
}

// TableName specifies the table name for GORM
func (TopPage) TableName() string {
	return "top_pages"
}

// Referrer is a per-day top-10 traffic source entry owned by one DailyMetric.
type Referrer struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DailyMetricID uint   `gorm:"index;not null" json:"daily_metric_id"`
	Source        string `gorm:"not null" json:"source"`
	Visitors      int    `gorm:"not null;default:0" json:"visitors"`
	CreatedAt     time.Time
}

// TableName specifies the table name for GORM
func (Referrer) TableName() string {
	return "referrers"
}

// DayInput carries one normalized day row from the fetcher.
type DayInput struct {
	Date               string
	Visitors           int
	PageViews          int
	AvgSessionDuration float64
	BounceRate         float64
}

// PageInput carries one normalized top-page row from the fetcher.
type PageInput struct {
	PagePath  string
	PageViews int
}

// ReferrerInput carries one normalized referrer row from the fetcher.
type ReferrerInput struct {
	Source   string
	Visitors int
}

// UpsertDay writes one day's metrics for a user. The DailyMetric row is
// inserted or updated in place keyed on (user_id, date). Child TopPage and
// Referrer rows are replaced on every call, first sync and re-sync alike, so
// a re-sync never leaves stale children behind. The whole write is a single
// transaction.
func UpsertDay(db *gorm.DB, logger *slog.Logger, userID string, day DayInput, pages []PageInput, referrers []ReferrerInput) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if _, err := timeframe.ParseDay(day.Date); err != nil {
		return err
	}

	// Visitors and page views can never go negative; clamp rather than reject
	// so one malformed upstream value does not lose the whole day.
	if day.Visitors < 0 {
		day.Visitors = 0
	}
	if day.PageViews < 0 {
		day.PageViews = 0
	}

	now := time.Now().UTC()

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		err := tx.Exec(`
            INSERT INTO daily_metrics (user_id, date, visitors, page_views, avg_session_duration, bounce_rate, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (user_id, date) DO UPDATE SET
                visitors = excluded.visitors,
                page_views = excluded.page_views,
                avg_session_duration = excluded.avg_session_duration,
                bounce_rate = excluded.bounce_rate,
                updated_at = excluded.updated_at
        `, userID, day.Date, day.Visitors, day.PageViews, day.AvgSessionDuration, day.BounceRate, now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert daily metric for %s: %w", day.Date, err)
		}

		var metric DailyMetric
		if err := tx.Where("user_id = ? AND date = ?", userID, day.Date).First(&metric).Error; err != nil {
			return fmt.Errorf("failed to load upserted daily metric for %s: %w", day.Date, err)
		}

		if err := replaceChildren(tx, metric.ID, pages, referrers, now); err != nil {
			return fmt.Errorf("failed to replace child rows for %s: %w", day.Date, err)
		}

		return nil
	})
}

// replaceChildren swaps the TopPage and Referrer rows owned by a DailyMetric.
func replaceChildren(tx *gorm.DB, metricID uint, pages []PageInput, referrers []ReferrerInput, now time.Time) error {
	if err := tx.Where("daily_metric_id = ?", metricID).Delete(&TopPage{}).Error; err != nil {
		return err
	}
	if err := tx.Where("daily_metric_id = ?", metricID).Delete(&Referrer{}).Error; err != nil {
		return err
	}

	for _, p := range pages {
		row := TopPage{DailyMetricID: metricID, PagePath: p.PagePath, PageViews: p.PageViews, CreatedAt: now}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	for _, r := range referrers {
		row := Referrer{DailyMetricID: metricID, Source: r.Source, Visitors: r.Visitors, CreatedAt: now}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetDayByUserAndDate retrieves a single daily metric row.
func GetDayByUserAndDate(db *gorm.DB, userID, date string) (*DailyMetric, error) {
	var metric DailyMetric
	if err := db.Where("user_id = ? AND date = ?", userID, date).First(&metric).Error; err != nil {
		return nil, err
	}
	return &metric, nil
}

// DeleteOlderThan removes daily metric rows before the cutoff date together
// with their child rows. Used by the retention job; events are retained
// separately as they are derived annotations, not owned children.
func DeleteOlderThan(db *gorm.DB, logger *slog.Logger, userID string, cutoffDate string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		var ids []uint
		query := tx.Model(&DailyMetric{}).Where("date < ?", cutoffDate)
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("daily_metric_id IN ?", ids).Delete(&TopPage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("daily_metric_id IN ?", ids).Delete(&Referrer{}).Error; err != nil {
			return err
		}

		result := tx.Where("id IN ?", ids).Delete(&DailyMetric{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

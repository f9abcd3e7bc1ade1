package metrics

import (
	"fmt"

	"gorm.io/gorm"

	"statsnap/internal/timeframe"
)

// SourceCountResult represents a generic label-count pair for query results
type SourceCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// GetRange fetches a user's daily metrics inside the range, ascending by date.
// The ascending order is what the event detector depends on.
func GetRange(db *gorm.DB, userID string, r timeframe.DayRange) ([]DailyMetric, error) {
	var rows []DailyMetric
	err := db.Where("user_id = ? AND date >= ? AND date <= ?", userID, r.FromString(), r.ToString()).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching daily metrics: %w", err)
	}
	return rows, nil
}

// GetTopPagesInRange aggregates per-day top page rows across the range,
// summing views per path and returning the overall top N.
func GetTopPagesInRange(db *gorm.DB, userID string, r timeframe.DayRange, limit int) ([]SourceCountResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var rawResults []struct {
		PagePath string
		Count    int64
	}

	query := `
    SELECT
        tp.page_path as page_path,
        SUM(tp.page_views) as count
    FROM top_pages tp
    JOIN daily_metrics dm ON dm.id = tp.daily_metric_id
    WHERE dm.user_id = ?
    AND dm.date BETWEEN ? AND ?
    GROUP BY tp.page_path
    HAVING count > 0
    ORDER BY count DESC
    LIMIT ?
    `

	err := db.Raw(query, userID, r.FromString(), r.ToString(), limit).Scan(&rawResults).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top pages: %w", err)
	}

	results := make([]SourceCountResult, len(rawResults))
	for i, row := range rawResults {
		results[i] = SourceCountResult{Name: row.PagePath, Count: row.Count}
	}
	return results, nil
}

// GetReferrersInRange aggregates per-day referrer rows across the range,
// summing visitors per source and returning the overall top N.
func GetReferrersInRange(db *gorm.DB, userID string, r timeframe.DayRange, limit int) ([]SourceCountResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var rawResults []struct {
		Source string
		Count  int64
	}

	query := `
    SELECT
        rf.source as source,
        SUM(rf.visitors) as count
    FROM referrers rf
    JOIN daily_metrics dm ON dm.id = rf.daily_metric_id
    WHERE dm.user_id = ?
    AND dm.date BETWEEN ? AND ?
    GROUP BY rf.source
    HAVING count > 0
    ORDER BY count DESC
    LIMIT ?
    `

	err := db.Raw(query, userID, r.FromString(), r.ToString(), limit).Scan(&rawResults).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching referrers: %w", err)
	}

	results := make([]SourceCountResult, len(rawResults))
	for i, row := range rawResults {
		results[i] = SourceCountResult{Name: row.Source, Count: row.Count}
	}
	return results, nil
}

// Totals holds aggregate numbers for a range, used by the dashboard summary.
type Totals struct {
	Visitors           int64   `json:"visitors"`
	PageViews          int64   `json:"page_views"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	AvgBounceRate      float64 `json:"avg_bounce_rate"`
	DaysWithData       int64   `json:"days_with_data"`
}

// GetTotalsInRange sums visitors and views and averages the rate metrics over
// the days that have data inside the range.
func GetTotalsInRange(db *gorm.DB, userID string, r timeframe.DayRange) (*Totals, error) {
	var totals Totals

	query := `
    SELECT
        COALESCE(SUM(visitors), 0) as visitors,
        COALESCE(SUM(page_views), 0) as page_views,
        COALESCE(AVG(avg_session_duration), 0) as avg_session_duration,
        COALESCE(AVG(bounce_rate), 0) as avg_bounce_rate,
        COUNT(*) as days_with_data
    FROM daily_metrics
    WHERE user_id = ?
    AND date BETWEEN ? AND ?
    `

	err := db.Raw(query, userID, r.FromString(), r.ToString()).Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching totals: %w", err)
	}
	return &totals, nil
}

package metrics

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"statsnap/internal/timeframe"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(&DailyMetric{}, &TopPage{}, &Referrer{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustRange(t *testing.T, from, to string) timeframe.DayRange {
	t.Helper()
	r, err := timeframe.ParseDayRange(from, to)
	require.NoError(t, err)
	return r
}

func TestUpsertDayInsertsWithChildren(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	day := DayInput{Date: "2026-08-01", Visitors: 120, PageViews: 340, AvgSessionDuration: 95.5, BounceRate: 42.1}
	pages := []PageInput{{PagePath: "/", PageViews: 200}, {PagePath: "/pricing", PageViews: 80}}
	referrers := []ReferrerInput{{Source: "google", Visitors: 60}, {Source: "twitter", Visitors: 25}}

	require.NoError(t, UpsertDay(db, log, "user-1", day, pages, referrers))

	metric, err := GetDayByUserAndDate(db, "user-1", "2026-08-01")
	require.NoError(t, err)
	assert.Equal(t, 120, metric.Visitors)
	assert.Equal(t, 340, metric.PageViews)
	assert.InDelta(t, 95.5, metric.AvgSessionDuration, 0.001)
	assert.InDelta(t, 42.1, metric.BounceRate, 0.001)

	var pageCount, refCount int64
	db.Model(&TopPage{}).Where("daily_metric_id = ?", metric.ID).Count(&pageCount)
	db.Model(&Referrer{}).Where("daily_metric_id = ?", metric.ID).Count(&refCount)
	assert.Equal(t, int64(2), pageCount)
	assert.Equal(t, int64(2), refCount)
}

func TestUpsertDayUpdatesInPlace(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	day := DayInput{Date: "2026-08-01", Visitors: 100, PageViews: 250}
	require.NoError(t, UpsertDay(db, log, "user-1", day, nil, nil))

	day.Visitors = 140
	day.PageViews = 300
	require.NoError(t, UpsertDay(db, log, "user-1", day, nil, nil))

	var count int64
	db.Model(&DailyMetric{}).Where("user_id = ? AND date = ?", "user-1", "2026-08-01").Count(&count)
	assert.Equal(t, int64(1), count, "re-sync must not duplicate the day row")

	metric, err := GetDayByUserAndDate(db, "user-1", "2026-08-01")
	require.NoError(t, err)
	assert.Equal(t, 140, metric.Visitors)
}

func TestUpsertDayReplacesChildrenOnResync(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	day := DayInput{Date: "2026-08-01", Visitors: 100, PageViews: 250}
	firstPages := []PageInput{{PagePath: "/old", PageViews: 50}}
	firstRefs := []ReferrerInput{{Source: "bing", Visitors: 10}}
	require.NoError(t, UpsertDay(db, log, "user-1", day, firstPages, firstRefs))

	secondPages := []PageInput{{PagePath: "/new", PageViews: 70}, {PagePath: "/blog", PageViews: 30}}
	secondRefs := []ReferrerInput{{Source: "google", Visitors: 40}}
	require.NoError(t, UpsertDay(db, log, "user-1", day, secondPages, secondRefs))

	metric, err := GetDayByUserAndDate(db, "user-1", "2026-08-01")
	require.NoError(t, err)

	var pages []TopPage
	db.Where("daily_metric_id = ?", metric.ID).Order("page_views DESC").Find(&pages)
	require.Len(t, pages, 2, "stale child rows must be replaced, not accumulated")
	assert.Equal(t, "/new", pages[0].PagePath)

	var refs []Referrer
	db.Where("daily_metric_id = ?", metric.ID).Find(&refs)
	require.Len(t, refs, 1)
	assert.Equal(t, "google", refs[0].Source)
}

func TestUpsertDayValidation(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	t.Run("missing user", func(t *testing.T) {
		err := UpsertDay(db, log, "", DayInput{Date: "2026-08-01"}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("bad date", func(t *testing.T) {
		err := UpsertDay(db, log, "user-1", DayInput{Date: "20260801"}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("negative counts clamped", func(t *testing.T) {
		day := DayInput{Date: "2026-08-02", Visitors: -5, PageViews: -1}
		require.NoError(t, UpsertDay(db, log, "user-1", day, nil, nil))
		metric, err := GetDayByUserAndDate(db, "user-1", "2026-08-02")
		require.NoError(t, err)
		assert.Equal(t, 0, metric.Visitors)
		assert.Equal(t, 0, metric.PageViews)
	})
}

func TestGetRangeOrdersAscending(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	// Insert out of order to prove the query sorts.
	for _, d := range []string{"2026-08-03", "2026-08-01", "2026-08-02"} {
		require.NoError(t, UpsertDay(db, log, "user-1", DayInput{Date: d, Visitors: 10}, nil, nil))
	}
	// Another user's rows must not leak in.
	require.NoError(t, UpsertDay(db, log, "user-2", DayInput{Date: "2026-08-02", Visitors: 99}, nil, nil))

	rows, err := GetRange(db, "user-1", mustRange(t, "2026-08-01", "2026-08-03"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-08-01", rows[0].Date)
	assert.Equal(t, "2026-08-02", rows[1].Date)
	assert.Equal(t, "2026-08-03", rows[2].Date)
}

func TestGetTopPagesInRangeAggregates(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-01", Visitors: 10},
		[]PageInput{{PagePath: "/", PageViews: 100}, {PagePath: "/docs", PageViews: 40}}, nil))
	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-02", Visitors: 12},
		[]PageInput{{PagePath: "/docs", PageViews: 90}, {PagePath: "/about", PageViews: 5}}, nil))

	results, err := GetTopPagesInRange(db, "user-1", mustRange(t, "2026-08-01", "2026-08-02"), 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, SourceCountResult{Name: "/docs", Count: 130}, results[0])
	assert.Equal(t, SourceCountResult{Name: "/", Count: 100}, results[1])
	assert.Equal(t, SourceCountResult{Name: "/about", Count: 5}, results[2])
}

func TestGetReferrersInRangeAggregates(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-01", Visitors: 10}, nil,
		[]ReferrerInput{{Source: "google", Visitors: 30}, {Source: "twitter", Visitors: 8}}))
	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-02", Visitors: 12}, nil,
		[]ReferrerInput{{Source: "google", Visitors: 25}}))

	results, err := GetReferrersInRange(db, "user-1", mustRange(t, "2026-08-01", "2026-08-02"), 1)
	require.NoError(t, err)
	require.Len(t, results, 1, "limit must cap the result set")
	assert.Equal(t, SourceCountResult{Name: "google", Count: 55}, results[0])
}

func TestGetTotalsInRange(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-01", Visitors: 100, PageViews: 200, AvgSessionDuration: 60, BounceRate: 40}, nil, nil))
	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-02", Visitors: 50, PageViews: 100, AvgSessionDuration: 120, BounceRate: 60}, nil, nil))

	totals, err := GetTotalsInRange(db, "user-1", mustRange(t, "2026-08-01", "2026-08-02"))
	require.NoError(t, err)
	assert.Equal(t, int64(150), totals.Visitors)
	assert.Equal(t, int64(300), totals.PageViews)
	assert.InDelta(t, 90, totals.AvgSessionDuration, 0.001)
	assert.InDelta(t, 50, totals.AvgBounceRate, 0.001)
	assert.Equal(t, int64(2), totals.DaysWithData)
}

func TestDeleteOlderThanCascadesToChildren(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2025-01-01", Visitors: 10},
		[]PageInput{{PagePath: "/", PageViews: 5}},
		[]ReferrerInput{{Source: "google", Visitors: 3}}))
	require.NoError(t, UpsertDay(db, log, "user-1",
		DayInput{Date: "2026-08-01", Visitors: 20},
		[]PageInput{{PagePath: "/", PageViews: 7}}, nil))

	deleted, err := DeleteOlderThan(db, log, "", "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var metricCount, pageCount, refCount int64
	db.Model(&DailyMetric{}).Count(&metricCount)
	db.Model(&TopPage{}).Count(&pageCount)
	db.Model(&Referrer{}).Count(&refCount)
	assert.Equal(t, int64(1), metricCount)
	assert.Equal(t, int64(1), pageCount, "children of pruned days must be removed")
	assert.Equal(t, int64(0), refCount)
}

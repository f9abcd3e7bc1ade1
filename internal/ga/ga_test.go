package ga

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
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

	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testToken(access, refresh string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveTokensCreatesAccount(t *testing.T) {
	db := setupTestDB(t)

	err := SaveTokens(db, testLogger(), "user-1", testToken("access-1", "refresh-1"))
	require.NoError(t, err)

	account, err := GetAccountByUser(db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", account.AccessToken)
	assert.Equal(t, "refresh-1", account.RefreshToken)
	assert.Empty(t, account.PropertyID)
	assert.False(t, account.Connected())
}

func TestSaveTokensKeepsRefreshTokenOnReauth(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, SaveTokens(db, testLogger(), "user-1", testToken("access-1", "refresh-1")))
	require.NoError(t, SetProperty(db, testLogger(), "user-1", "123456"))

	// Google omits the refresh token when the user re-consents.
	require.NoError(t, SaveTokens(db, testLogger(), "user-1", testToken("access-2", "")))

	account, err := GetAccountByUser(db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", account.AccessToken)
	assert.Equal(t, "refresh-1", account.RefreshToken)
	assert.Equal(t, "123456", account.PropertyID, "re-auth must keep the selected property")

	var count int64
	db.Model(&Account{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSaveTokensValidation(t *testing.T) {
	db := setupTestDB(t)

	assert.Error(t, SaveTokens(db, testLogger(), "", testToken("access", "refresh")))
	assert.Error(t, SaveTokens(db, testLogger(), "user-1", nil))
	assert.Error(t, SaveTokens(db, testLogger(), "user-1", testToken("", "refresh")))
}

func TestSetPropertyRequiresAccount(t *testing.T) {
	db := setupTestDB(t)

	err := SetProperty(db, testLogger(), "missing-user", "123456")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetAccountByUserNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := GetAccountByUser(db, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetConnectedAccountsSkipsUnselected(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, SaveTokens(db, log, "user-a", testToken("a", "ra")))
	require.NoError(t, SaveTokens(db, log, "user-b", testToken("b", "rb")))
	require.NoError(t, SaveTokens(db, log, "user-c", testToken("c", "rc")))
	require.NoError(t, SetProperty(db, log, "user-a", "111"))
	require.NoError(t, SetProperty(db, log, "user-c", "333"))

	accounts, err := GetConnectedAccounts(db)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "user-a", accounts[0].UserID)
	assert.Equal(t, "user-c", accounts[1].UserID)
}

func TestUpdateTokensPersistsRefreshedCredential(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, SaveTokens(db, log, "user-1", testToken("old", "refresh-1")))

	fresh := &oauth2.Token{AccessToken: "new", Expiry: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, UpdateTokens(db, log, "user-1", fresh))

	account, err := GetAccountByUser(db, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new", account.AccessToken)
	assert.Equal(t, "refresh-1", account.RefreshToken)
	assert.WithinDuration(t, fresh.Expiry, account.TokenExpiry, time.Second)
}

func TestDeleteAccountDisconnects(t *testing.T) {
	db := setupTestDB(t)
	log := testLogger()

	require.NoError(t, SaveTokens(db, log, "user-1", testToken("a", "r")))
	require.NoError(t, DeleteAccount(db, log, "user-1"))

	_, err := GetAccountByUser(db, "user-1")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestNormalizeDailyRows(t *testing.T) {
	resp := &analyticsdata.RunReportResponse{
		Rows: []*analyticsdata.Row{
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "20260830"}},
				MetricValues: []*analyticsdata.MetricValue{
					{Value: "42"}, {Value: "120"}, {Value: "83.5"}, {Value: "0.43"},
				},
			},
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "20260831"}},
				MetricValues: []*analyticsdata.MetricValue{
					{Value: "-3"}, {Value: "garbage"}, {Value: "0"}, {Value: "1"},
				},
			},
		},
	}

	days, err := normalizeDailyRows(resp)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2026-08-30", days[0].Date)
	assert.Equal(t, 42, days[0].Visitors)
	assert.Equal(t, 120, days[0].PageViews)
	assert.Equal(t, 83.5, days[0].AvgSessionDuration)
	assert.InDelta(t, 43.0, days[0].BounceRate, 0.001)

	// Negative and unparseable counts collapse to zero.
	assert.Equal(t, "2026-08-31", days[1].Date)
	assert.Equal(t, 0, days[1].Visitors)
	assert.Equal(t, 0, days[1].PageViews)
	assert.InDelta(t, 100.0, days[1].BounceRate, 0.001)
}

func TestNormalizeDailyRowsRejectsMalformedDate(t *testing.T) {
	resp := &analyticsdata.RunReportResponse{
		Rows: []*analyticsdata.Row{
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "2026-08-30"}},
				MetricValues: []*analyticsdata.MetricValue{
					{Value: "1"}, {Value: "1"}, {Value: "1"}, {Value: "1"},
				},
			},
		},
	}

	_, err := normalizeDailyRows(resp)
	assert.Error(t, err)
}

func TestNormalizeDailyRowsSkipsShortRows(t *testing.T) {
	resp := &analyticsdata.RunReportResponse{
		Rows: []*analyticsdata.Row{
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "20260830"}},
				MetricValues:    []*analyticsdata.MetricValue{{Value: "42"}},
			},
		},
	}

	days, err := normalizeDailyRows(resp)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestNormalizePageAndReferrerRows(t *testing.T) {
	pages := normalizePageRows(&analyticsdata.RunReportResponse{
		Rows: []*analyticsdata.Row{
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "/docs"}},
				MetricValues:    []*analyticsdata.MetricValue{{Value: "90"}},
			},
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "/"}},
				MetricValues:    []*analyticsdata.MetricValue{{Value: "50"}},
			},
		},
	})
	require.Len(t, pages, 2)
	assert.Equal(t, "/docs", pages[0].PagePath)
	assert.Equal(t, 90, pages[0].PageViews)

	referrers := normalizeReferrerRows(&analyticsdata.RunReportResponse{
		Rows: []*analyticsdata.Row{
			{
				DimensionValues: []*analyticsdata.DimensionValue{{Value: "google"}},
				MetricValues:    []*analyticsdata.MetricValue{{Value: "30"}},
			},
		},
	})
	require.Len(t, referrers, 1)
	assert.Equal(t, "google", referrers[0].Source)
	assert.Equal(t, 30, referrers[0].Visitors)

	assert.Nil(t, normalizePageRows(nil))
	assert.Nil(t, normalizeReferrerRows(nil))
}

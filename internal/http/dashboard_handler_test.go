package http_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsnap/internal/events"
	"statsnap/internal/metrics"
	"statsnap/internal/settings"
	"statsnap/internal/testsupport"
	"statsnap/internal/timeframe"
)

func TestHealthEndpoint(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/_health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db_status"])
}

func TestLoginEndpoint(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	user := testsupport.CreateTestUserForAuth(t, db, "admin@example.com", "correct-horse")
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("valid credentials set a session and return the profile", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login",
			strings.NewReader(`{"email":"admin@example.com","password":"correct-horse"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Sec-Fetch-Site", "same-origin")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		var profile map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &profile))
		assert.Equal(t, user.PublicID, profile["user_id"])
		assert.Equal(t, "admin@example.com", profile["email"])

		var sessionValue string
		for _, cookie := range resp.Cookies() {
			if cookie.Name == testsupport.SessionCookieName {
				sessionValue = cookie.Value
			}
		}
		assert.NotEmpty(t, sessionValue)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login",
			strings.NewReader(`{"email":"admin@example.com","password":"wrong"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Sec-Fetch-Site", "same-origin")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown email is rejected with the same status", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login",
			strings.NewReader(`{"email":"nobody@example.com","password":"whatever"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Sec-Fetch-Site", "same-origin")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing fields are a bad request", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Sec-Fetch-Site", "same-origin")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login without browser fetch metadata is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login",
			strings.NewReader(`{"email":"admin@example.com","password":"correct-horse"}`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestDashboardEndpoints(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	user := testsupport.CreateTestUserForAuth(t, db, "dash@example.com", "password123")
	end := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	window := testsupport.SeedDailyMetrics(t, db, logger, user.PublicID, end, 7, 100)

	app := testsupport.CreateMinimalTestApp(t, db)
	session := testsupport.LoginTestUser(t, app, "dash@example.com", "password123")
	sessionCookie := fmt.Sprintf("%s=%s", testsupport.SessionCookieName, session)

	rangeQuery := fmt.Sprintf("from=%s&to=%s",
		timeframe.FormatDay(window.From), timeframe.FormatDay(window.To))

	authedGet := func(t *testing.T, path string) (*http.Response, map[string]interface{}) {
		t.Helper()
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("Cookie", sessionCookie)
		resp, err := app.Test(req)
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var payload map[string]interface{}
		if len(body) > 0 {
			require.NoError(t, json.Unmarshal(body, &payload))
		}
		return resp, payload
	}

	t.Run("metrics returns the seeded days in order", func(t *testing.T) {
		resp, payload := authedGet(t, "/admin/api/metrics?"+rangeQuery)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		rows, ok := payload["metrics"].([]interface{})
		require.True(t, ok)
		assert.Len(t, rows, 7)
	})

	t.Run("overview bundles metrics, events and totals", func(t *testing.T) {
		resp, payload := authedGet(t, "/admin/api/overview?"+rangeQuery)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		rows, ok := payload["metrics"].([]interface{})
		require.True(t, ok)
		assert.Len(t, rows, 7)

		totals, ok := payload["totals"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(700), totals["visitors"])
	})

	t.Run("events returns detected events in the range", func(t *testing.T) {
		// Turn the last day into a spike so detection has something to find.
		spikeDay := metrics.DayInput{
			Date:      timeframe.FormatDay(window.To),
			Visitors:  300,
			PageViews: 600,
		}
		require.NoError(t, metrics.UpsertDay(db, logger, user.PublicID, spikeDay, nil, nil))

		count, err := events.DetectAndStore(db, logger, user.PublicID, window)
		require.NoError(t, err)
		require.GreaterOrEqual(t, count, 1)

		resp, payload := authedGet(t, "/admin/api/events?"+rangeQuery)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		rows, ok := payload["events"].([]interface{})
		require.True(t, ok)
		assert.NotEmpty(t, rows)
	})

	t.Run("malformed range is a bad request", func(t *testing.T) {
		resp, _ := authedGet(t, "/admin/api/metrics?from=2025-99-99&to=2025-01-01")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("sync trigger without a connection is a bad request", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/admin/api/sync", nil)
		req.Header.Set("Cookie", sessionCookie)
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSyncRunBatchAuth(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	require.NoError(t, settings.SetupDefaultSettings(db))

	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("rejects a missing Authorization header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync/run", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a malformed Authorization header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync/run", nil)
		req.Header.Set("Authorization", "Basic abc123")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects an invalid key", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync/run", nil)
		req.Header.Set("Authorization", "Bearer not-the-key")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("accepts the stored key from a non-browser client", func(t *testing.T) {
		key, err := settings.GetOrCreateSyncAPIKey(db)
		require.NoError(t, err)

		// Deliberately no Sec-Fetch-Site header: external schedulers (cron,
		// curl) do not send browser fetch metadata and must still get through.
		req := httptest.NewRequest("POST", "/api/v1/sync/run", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &payload))
		// No connected accounts, so the batch is empty.
		assert.Empty(t, payload["results"])
	})
}

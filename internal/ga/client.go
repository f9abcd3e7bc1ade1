package ga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"statsnap/internal/config"
	"statsnap/internal/metrics"
	"statsnap/internal/pkg/async"
	"statsnap/internal/timeframe"
)

// topEntriesLimit caps the top-pages and referrers reports, matching what the
// dashboard renders.
const topEntriesLimit = 10

// UpstreamError wraps a rejection from the Google Analytics API with a
// human-readable detail. A fetch failure aborts the whole sync attempt for
// that user; the caller decides whether to retry or propagate.
type UpstreamError struct {
	Op     string
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("google analytics %s failed: %s", e.Op, e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// newUpstreamError extracts the API's own message when the underlying error
// carries one (insufficient permission, disabled API, property not found).
func newUpstreamError(op string, err error) *UpstreamError {
	detail := err.Error()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		detail = fmt.Sprintf("%s (HTTP %d)", apiErr.Message, apiErr.Code)
	}
	return &UpstreamError{Op: op, Detail: detail, Err: err}
}

// ReportBundle holds the three normalized result sets of one fetch.
type ReportBundle struct {
	Daily     []metrics.DayInput
	TopPages  []metrics.PageInput
	Referrers []metrics.ReferrerInput
}

// Client fetches reports from the GA4 Data API on behalf of connected
// accounts, refreshing credentials as needed.
type Client struct {
	db        *gorm.DB
	logger    *slog.Logger
	oauth     *oauth2.Config
	extraOpts []option.ClientOption
}

// NewClient creates a report fetcher backed by the given database connection
// for credential persistence.
func NewClient(db *gorm.DB, logger *slog.Logger, cfg *config.Config) *Client {
	return &Client{
		db:     db,
		logger: logger,
		oauth:  OAuthConfig(cfg),
	}
}

// NewClientWithOptions adds extra client options (endpoint/transport
// overrides); intended for tests.
func NewClientWithOptions(db *gorm.DB, logger *slog.Logger, cfg *config.Config, opts ...option.ClientOption) *Client {
	c := NewClient(db, logger, cfg)
	c.extraOpts = opts
	return c
}

// tokenSource returns a static token source for the account, refreshing the
// credential first when it has expired. The refreshed token is a new value
// persisted back to the account record; nothing is mutated in place. Refresh
// happens at most once per call; if refresh itself fails, that surfaces as an
// UpstreamError.
func (c *Client) tokenSource(ctx context.Context, account *Account) (oauth2.TokenSource, error) {
	fresh, err := c.oauth.TokenSource(ctx, account.OAuthToken()).Token()
	if err != nil {
		return nil, newUpstreamError("token refresh", err)
	}

	if fresh.AccessToken != account.AccessToken {
		c.logger.Info("Refreshed Google access token", slog.String("userID", account.UserID))
		if err := UpdateTokens(c.db, c.logger, account.UserID, fresh); err != nil {
			// The token still works for this call; losing the persisted copy
			// only costs an extra refresh next time.
			c.logger.Error("Failed to persist refreshed token", slog.String("userID", account.UserID), slog.Any("error", err))
		}
	}

	return oauth2.StaticTokenSource(fresh), nil
}

// FetchReports runs the three report queries for the window and returns the
// normalized result sets. The three reports are independent, so they are
// fired in parallel and joined before returning. Window bounds are inclusive
// calendar days.
func (c *Client) FetchReports(ctx context.Context, account *Account, window timeframe.DayRange) (*ReportBundle, error) {
	if !account.Connected() {
		return nil, &UpstreamError{Op: "report", Detail: "no GA4 property selected"}
	}

	ts, err := c.tokenSource(ctx, account)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.extraOpts...)
	svc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return nil, newUpstreamError("client setup", err)
	}

	property := "properties/" + account.PropertyID
	dateRange := &analyticsdata.DateRange{StartDate: window.FromString(), EndDate: window.ToString()}

	tasks := []async.Task{
		{
			Name: "daily",
			Execute: func() (interface{}, error) {
				return svc.Properties.RunReport(property, &analyticsdata.RunReportRequest{
					DateRanges: []*analyticsdata.DateRange{dateRange},
					Dimensions: []*analyticsdata.Dimension{{Name: "date"}},
					Metrics: []*analyticsdata.Metric{
						{Name: "activeUsers"},
						{Name: "screenPageViews"},
						{Name: "averageSessionDuration"},
						{Name: "bounceRate"},
					},
				}).Context(ctx).Do()
			},
		},
		{
			Name: "pages",
			Execute: func() (interface{}, error) {
				return svc.Properties.RunReport(property, &analyticsdata.RunReportRequest{
					DateRanges: []*analyticsdata.DateRange{dateRange},
					Dimensions: []*analyticsdata.Dimension{{Name: "pagePath"}},
					Metrics:    []*analyticsdata.Metric{{Name: "screenPageViews"}},
					OrderBys: []*analyticsdata.OrderBy{
						{Metric: &analyticsdata.MetricOrderBy{MetricName: "screenPageViews"}, Desc: true},
					},
					Limit: topEntriesLimit,
				}).Context(ctx).Do()
			},
		},
		{
			Name: "referrers",
			Execute: func() (interface{}, error) {
				return svc.Properties.RunReport(property, &analyticsdata.RunReportRequest{
					DateRanges: []*analyticsdata.DateRange{dateRange},
					Dimensions: []*analyticsdata.Dimension{{Name: "sessionSource"}},
					Metrics:    []*analyticsdata.Metric{{Name: "activeUsers"}},
					OrderBys: []*analyticsdata.OrderBy{
						{Metric: &analyticsdata.MetricOrderBy{MetricName: "activeUsers"}, Desc: true},
					},
					Limit: topEntriesLimit,
				}).Context(ctx).Do()
			},
		},
	}

	results := async.NewPool(len(tasks)).Execute(ctx, tasks)

	responses := make(map[string]*analyticsdata.RunReportResponse, len(tasks))
	for _, task := range tasks {
		result, ok := results[task.Name]
		if !ok {
			return nil, &UpstreamError{Op: task.Name + " report", Detail: "request cancelled", Err: ctx.Err()}
		}
		if result.Err != nil {
			return nil, newUpstreamError(task.Name+" report", result.Err)
		}
		responses[task.Name] = result.Data.(*analyticsdata.RunReportResponse)
	}

	daily, err := normalizeDailyRows(responses["daily"])
	if err != nil {
		return nil, fmt.Errorf("failed to normalize daily report: %w", err)
	}

	return &ReportBundle{
		Daily:     daily,
		TopPages:  normalizePageRows(responses["pages"]),
		Referrers: normalizeReferrerRows(responses["referrers"]),
	}, nil
}

// Property identifies one selectable GA4 property on the connect screen.
type Property struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Account     string `json:"account"`
}

// ListProperties fetches every GA4 property the account's credential can see,
// via the Admin API account summaries endpoint.
func (c *Client) ListProperties(ctx context.Context, account *Account) ([]Property, error) {
	ts, err := c.tokenSource(ctx, account)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.extraOpts...)
	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, newUpstreamError("client setup", err)
	}

	var properties []Property
	call := svc.AccountSummaries.List().PageSize(200)
	err = call.Pages(ctx, func(resp *analyticsadmin.GoogleAnalyticsAdminV1betaListAccountSummariesResponse) error {
		for _, summary := range resp.AccountSummaries {
			for _, prop := range summary.PropertySummaries {
				properties = append(properties, Property{
					ID:          strings.TrimPrefix(prop.Property, "properties/"),
					DisplayName: prop.DisplayName,
					Account:     summary.DisplayName,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, newUpstreamError("account summaries", err)
	}

	return properties, nil
}

// normalizeDailyRows converts the daily report into storage inputs: compact
// GA dates become YYYY-MM-DD, counts are clamped at zero, and the bounce rate
// fraction becomes a 0-100 percentage.
func normalizeDailyRows(resp *analyticsdata.RunReportResponse) ([]metrics.DayInput, error) {
	if resp == nil {
		return nil, nil
	}

	days := make([]metrics.DayInput, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) < 1 || len(row.MetricValues) < 4 {
			continue
		}

		date, err := timeframe.NormalizeCompactDay(row.DimensionValues[0].Value)
		if err != nil {
			return nil, err
		}

		days = append(days, metrics.DayInput{
			Date:               date,
			Visitors:           parseMetricInt(row.MetricValues[0].Value),
			PageViews:          parseMetricInt(row.MetricValues[1].Value),
			AvgSessionDuration: parseMetricFloat(row.MetricValues[2].Value),
			BounceRate:         parseMetricFloat(row.MetricValues[3].Value) * 100,
		})
	}
	return days, nil
}

func normalizePageRows(resp *analyticsdata.RunReportResponse) []metrics.PageInput {
	if resp == nil {
		return nil
	}

	pages := make([]metrics.PageInput, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) < 1 || len(row.MetricValues) < 1 {
			continue
		}
		pages = append(pages, metrics.PageInput{
			PagePath:  row.DimensionValues[0].Value,
			PageViews: parseMetricInt(row.MetricValues[0].Value),
		})
	}
	return pages
}

func normalizeReferrerRows(resp *analyticsdata.RunReportResponse) []metrics.ReferrerInput {
	if resp == nil {
		return nil
	}

	referrers := make([]metrics.ReferrerInput, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) < 1 || len(row.MetricValues) < 1 {
			continue
		}
		referrers = append(referrers, metrics.ReferrerInput{
			Source:   row.DimensionValues[0].Value,
			Visitors: parseMetricInt(row.MetricValues[0].Value),
		})
	}
	return referrers
}

// parseMetricInt reads a GA metric value as a non-negative integer;
// unparseable or negative values collapse to 0.
func parseMetricInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseMetricFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// Package syncer orchestrates the pull pipeline: fetch reports from Google
// Analytics, upsert daily metrics and their children, then run event
// detection over the trailing window.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"statsnap/internal/config"
	"statsnap/internal/events"
	"statsnap/internal/ga"
	"statsnap/internal/metrics"
	"statsnap/internal/pkg/async"
	"statsnap/internal/timeframe"
)

// ReportFetcher pulls the report bundle for one account. Satisfied by
// ga.Client; tests substitute a fake.
type ReportFetcher interface {
	FetchReports(ctx context.Context, account *ga.Account, window timeframe.DayRange) (*ga.ReportBundle, error)
}

// Result summarizes one user's sync attempt.
type Result struct {
	UserID string `json:"user_id"`
	Days   int    `json:"days"`
	Events int    `json:"events"`
	Error  string `json:"error,omitempty"`
}

// Syncer runs the sync pipeline for one user or for every connected account.
type Syncer struct {
	db      *gorm.DB
	logger  *slog.Logger
	config  *config.Config
	fetcher ReportFetcher
}

func NewSyncer(db *gorm.DB, logger *slog.Logger, cfg *config.Config, fetcher ReportFetcher) *Syncer {
	return &Syncer{db: db, logger: logger, config: cfg, fetcher: fetcher}
}

// Window returns the trailing fetch window ending today. Zero or negative
// days falls back to the configured default.
func (s *Syncer) Window(days int) timeframe.DayRange {
	if days <= 0 {
		days = s.config.SyncWindowDays
	}
	return timeframe.TrailingWindow(time.Now().UTC(), days)
}

// SyncUser fetches the window for one account and stores it. A fetch failure
// aborts the attempt with nothing written; once the fetch succeeds, a day
// that fails to store is logged and skipped so one bad row cannot block the
// rest. Detection then runs over the configured trailing window so streaks
// and milestones see history beyond the days just fetched.
func (s *Syncer) SyncUser(ctx context.Context, account *ga.Account, window timeframe.DayRange) (*Result, error) {
	if !account.Connected() {
		return nil, fmt.Errorf("user %s has no GA4 property selected", account.UserID)
	}

	bundle, err := s.fetcher.FetchReports(ctx, account, window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reports for user %s: %w", account.UserID, err)
	}

	result := &Result{UserID: account.UserID}
	for _, day := range bundle.Daily {
		if err := metrics.UpsertDay(s.db, s.logger, account.UserID, day, bundle.TopPages, bundle.Referrers); err != nil {
			s.logger.Error("Failed to store day, skipping",
				slog.String("userID", account.UserID),
				slog.String("date", day.Date),
				slog.Any("error", err))
			continue
		}
		result.Days++
	}

	detection := timeframe.TrailingWindow(time.Now().UTC(), s.config.DetectionWindowDays)
	stored, err := events.DetectAndStore(s.db, s.logger, account.UserID, detection)
	if err != nil {
		return nil, fmt.Errorf("failed to detect events for user %s: %w", account.UserID, err)
	}
	result.Events = stored

	s.logger.Info("Synced user",
		slog.String("userID", account.UserID),
		slog.Int("days", result.Days),
		slog.Int("events", result.Events))
	return result, nil
}

// SyncAll runs SyncUser for every connected account with bounded
// concurrency. One user's failure is recorded in their Result and does not
// stop the others.
func (s *Syncer) SyncAll(ctx context.Context, window timeframe.DayRange) ([]Result, error) {
	accounts, err := ga.GetConnectedAccounts(s.db)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	tasks := make([]async.Task, 0, len(accounts))
	for i := range accounts {
		account := accounts[i]
		tasks = append(tasks, async.Task{
			Name: account.UserID,
			Execute: func() (interface{}, error) {
				return s.SyncUser(ctx, &account, window)
			},
		})
	}

	outcomes := s.pool().Execute(ctx, tasks)

	results := make([]Result, 0, len(accounts))
	for _, account := range accounts {
		outcome, ok := outcomes[account.UserID]
		if !ok {
			results = append(results, Result{UserID: account.UserID, Error: "cancelled before start"})
			continue
		}
		if outcome.Err != nil {
			s.logger.Error("Sync failed for user",
				slog.String("userID", account.UserID),
				slog.Any("error", outcome.Err))
			results = append(results, Result{UserID: account.UserID, Error: outcome.Err.Error()})
			continue
		}
		results = append(results, *outcome.Data.(*Result))
	}
	return results, nil
}

func (s *Syncer) pool() *async.Pool {
	workers := s.config.SyncWorkers
	if workers < 1 {
		workers = 1
	}
	return async.NewPool(workers)
}

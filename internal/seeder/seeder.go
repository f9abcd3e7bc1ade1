// Package seeder fills a database with a demo account and a plausible
// metrics history so the dashboard has something to show without a real
// Google Analytics connection.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"statsnap/internal/events"
	"statsnap/internal/metrics"
	"statsnap/internal/timeframe"
	"statsnap/internal/users"
)

const (
	// DemoEmail is the account the seeder creates.
	DemoEmail    = "demo@statsnap.local"
	demoPassword = "password"
)

// Seeder handles the demo data seeding process.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	Days      int
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if days <= 0 {
		days = 60
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Days:      days,
	}
}

// Run seeds a demo user, a daily metrics history with pages and referrers,
// and the events the detector derives from it.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	db := s.DBManager.GetConnection()

	user, err := s.ensureDemoUser(db)
	if err != nil {
		return err
	}
	s.Logger.Info("Seeding demo metrics",
		slog.String("email", user.Email),
		slog.Int("days", s.Days))

	today := timeframe.TruncateToDay(time.Now().UTC())
	seeded := 0
	for i := s.Days - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		day := today.AddDate(0, 0, -i)
		input := s.dayMetrics(day, s.Days-1-i)
		pages, referrers := s.dayChildren(input.Visitors, input.PageViews)

		if err := metrics.UpsertDay(db, s.Logger, user.PublicID, input, pages, referrers); err != nil {
			return fmt.Errorf("failed to seed day %s: %w", input.Date, err)
		}
		seeded++
	}

	window, err := timeframe.ParseDayRange(
		timeframe.FormatDay(today.AddDate(0, 0, -(s.Days-1))),
		timeframe.FormatDay(today))
	if err != nil {
		return err
	}
	detected, err := events.DetectAndStore(db, s.Logger, user.PublicID, window)
	if err != nil {
		return fmt.Errorf("failed to detect events over seeded data: %w", err)
	}

	s.Logger.Info("Seeding completed",
		slog.Int("days", seeded),
		slog.Int("events", detected),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) ensureDemoUser(db *gorm.DB) (*users.User, error) {
	if existing, err := users.FindByEmail(db, DemoEmail); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user, err := users.CreateUser(db, DemoEmail, demoPassword, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create demo user: %w", err)
	}
	return user, nil
}

// dayMetrics produces one plausible day: slow growth, a weekly rhythm, a
// little noise, and the occasional traffic burst so the detector has spikes
// and milestones to find.
func (s *Seeder) dayMetrics(day time.Time, index int) metrics.DayInput {
	base := 60.0 + 2.2*float64(index)

	// weekends dip, midweek peaks
	weekday := day.Weekday()
	seasonal := 1.0
	switch weekday {
	case time.Saturday, time.Sunday:
		seasonal = 0.65
	case time.Tuesday, time.Wednesday:
		seasonal = 1.15
	}

	noise := 0.85 + rand.Float64()*0.3
	visitors := int(math.Round(base * seasonal * noise))

	// a burst roughly once every couple of weeks
	if rand.IntN(14) == 0 {
		visitors = int(float64(visitors) * (1.8 + rand.Float64()))
	}
	if visitors < 1 {
		visitors = 1
	}

	pageViews := int(float64(visitors) * (2.1 + rand.Float64()*0.8))

	return metrics.DayInput{
		Date:               timeframe.FormatDay(day),
		Visitors:           visitors,
		PageViews:          pageViews,
		AvgSessionDuration: 45 + rand.Float64()*120,
		BounceRate:         35 + rand.Float64()*30,
	}
}

var seedPages = []struct {
	path   string
	weight float64
}{
	{"/", 0.34},
	{"/blog", 0.16},
	{"/docs", 0.14},
	{"/pricing", 0.12},
	{"/blog/launch-week", 0.09},
	{"/about", 0.06},
	{"/changelog", 0.05},
	{"/contact", 0.04},
}

var seedReferrers = []struct {
	source string
	weight float64
}{
	{"google", 0.42},
	{"(direct)", 0.28},
	{"news.ycombinator.com", 0.10},
	{"twitter.com", 0.08},
	{"github.com", 0.07},
	{"duckduckgo.com", 0.05},
}

func (s *Seeder) dayChildren(visitors, pageViews int) ([]metrics.PageInput, []metrics.ReferrerInput) {
	pages := make([]metrics.PageInput, 0, len(seedPages))
	for _, p := range seedPages {
		count := int(float64(pageViews) * p.weight * (0.8 + rand.Float64()*0.4))
		if count == 0 {
			continue
		}
		pages = append(pages, metrics.PageInput{PagePath: p.path, PageViews: count})
	}

	referrers := make([]metrics.ReferrerInput, 0, len(seedReferrers))
	for _, r := range seedReferrers {
		count := int(float64(visitors) * r.weight * (0.8 + rand.Float64()*0.4))
		if count == 0 {
			continue
		}
		referrers = append(referrers, metrics.ReferrerInput{Source: r.source, Visitors: count})
	}

	return pages, referrers
}

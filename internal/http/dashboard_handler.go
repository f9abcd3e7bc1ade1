package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"statsnap/internal/config"
	"statsnap/internal/events"
	"statsnap/internal/metrics"
	"statsnap/internal/pkg/async"
	"statsnap/internal/timeframe"
)

// topListLimit caps the aggregated top-pages and referrers lists served to
// the dashboard.
const topListLimit = 10

// OverviewResponse bundles everything the dashboard renders for a date range.
type OverviewResponse struct {
	Metrics   []metrics.DailyMetric       `json:"metrics"`
	Events    []events.Event              `json:"events"`
	TopPages  []metrics.SourceCountResult `json:"top_pages"`
	Referrers []metrics.SourceCountResult `json:"referrers"`
	Totals    *metrics.Totals             `json:"totals"`
}

// requestedRange parses ?from=&to= with a trailing default window when the
// parameters are absent.
func requestedRange(ctx *cartridge.Context) (timeframe.DayRange, error) {
	from := ctx.Query("from")
	to := ctx.Query("to")
	if from == "" && to == "" {
		cfg := config.GetConfig()
		return timeframe.TrailingWindow(time.Now().UTC(), cfg.DetectionWindowDays), nil
	}
	return timeframe.ParseDayRange(from, to)
}

func badRange(ctx *cartridge.Context, err error) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fmt.Sprintf("invalid date range: %v", err),
	})
}

// MetricsIndexAction serves the stored daily metrics for a range
func MetricsIndexAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	window, err := requestedRange(ctx)
	if err != nil {
		return badRange(ctx, err)
	}

	rows, err := metrics.GetRange(ctx.DB(), user.PublicID, window)
	if err != nil {
		ctx.Logger.Error("Failed to load metrics", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load metrics",
		})
	}
	return ctx.JSON(fiber.Map{"metrics": rows})
}

// EventsIndexAction serves the detected notable events for a range
func EventsIndexAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	window, err := requestedRange(ctx)
	if err != nil {
		return badRange(ctx, err)
	}

	rows, err := events.GetRange(ctx.DB(), user.PublicID, window)
	if err != nil {
		ctx.Logger.Error("Failed to load events", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load events",
		})
	}
	return ctx.JSON(fiber.Map{"events": rows})
}

// TopPagesIndexAction serves pages re-aggregated across the range
func TopPagesIndexAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	window, err := requestedRange(ctx)
	if err != nil {
		return badRange(ctx, err)
	}

	rows, err := metrics.GetTopPagesInRange(ctx.DB(), user.PublicID, window, topListLimit)
	if err != nil {
		ctx.Logger.Error("Failed to load top pages", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load top pages",
		})
	}
	return ctx.JSON(fiber.Map{"top_pages": rows})
}

// ReferrersIndexAction serves referrers re-aggregated across the range
func ReferrersIndexAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	window, err := requestedRange(ctx)
	if err != nil {
		return badRange(ctx, err)
	}

	rows, err := metrics.GetReferrersInRange(ctx.DB(), user.PublicID, window, topListLimit)
	if err != nil {
		ctx.Logger.Error("Failed to load referrers", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load referrers",
		})
	}
	return ctx.JSON(fiber.Map{"referrers": rows})
}

// OverviewIndexAction serves the combined dashboard payload, fetching the
// independent result sets concurrently.
func OverviewIndexAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	window, err := requestedRange(ctx)
	if err != nil {
		return badRange(ctx, err)
	}

	resp, err := fetchOverview(ctx.DB(), user.PublicID, window)
	if err != nil {
		ctx.Logger.Error("Failed to build overview", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load dashboard data",
		})
	}
	return ctx.JSON(resp)
}

func fetchOverview(db *gorm.DB, userID string, window timeframe.DayRange) (*OverviewResponse, error) {
	tasks := []async.Task{
		{
			Name: "metrics",
			Execute: func() (interface{}, error) {
				return metrics.GetRange(db, userID, window)
			},
		},
		{
			Name: "events",
			Execute: func() (interface{}, error) {
				return events.GetRange(db, userID, window)
			},
		},
		{
			Name: "topPages",
			Execute: func() (interface{}, error) {
				return metrics.GetTopPagesInRange(db, userID, window, topListLimit)
			},
		},
		{
			Name: "referrers",
			Execute: func() (interface{}, error) {
				return metrics.GetReferrersInRange(db, userID, window, topListLimit)
			},
		},
		{
			Name: "totals",
			Execute: func() (interface{}, error) {
				return metrics.GetTotalsInRange(db, userID, window)
			},
		},
	}

	results := async.NewPool(len(tasks)).Execute(context.Background(), tasks)
	for name, result := range results {
		if result.Err != nil {
			return nil, fmt.Errorf("error fetching %s: %w", name, result.Err)
		}
	}

	return &OverviewResponse{
		Metrics:   results["metrics"].Data.([]metrics.DailyMetric),
		Events:    results["events"].Data.([]events.Event),
		TopPages:  results["topPages"].Data.([]metrics.SourceCountResult),
		Referrers: results["referrers"].Data.([]metrics.SourceCountResult),
		Totals:    results["totals"].Data.(*metrics.Totals),
	}, nil
}

package http

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"log/slog"

	"statsnap/internal/config"
	"statsnap/internal/ga"
	"statsnap/internal/syncer"
)

// adminSyncDefaultDays is the window the on-demand trigger covers when the
// caller does not pass ?days=; wide enough to backfill a fresh connection.
const adminSyncDefaultDays = 30

// maxSyncDays caps how far back a single trigger can reach.
const maxSyncDays = 365

func requestedDays(ctx *cartridge.Context, fallback int) int {
	raw := ctx.Query("days")
	if raw == "" {
		return fallback
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return fallback
	}
	if days > maxSyncDays {
		return maxSyncDays
	}
	return days
}

func newSyncer(ctx *cartridge.Context) *syncer.Syncer {
	cfg := config.GetConfig()
	db := ctx.DB()
	client := ga.NewClient(db, ctx.Logger, cfg)
	return syncer.NewSyncer(db, ctx.Logger, cfg, client)
}

// SyncTriggerAction runs the pipeline synchronously for the signed-in user.
func SyncTriggerAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}

	account, err := ga.GetAccountByUser(ctx.DB(), user.PublicID)
	if err != nil {
		if errors.Is(err, ga.ErrAccountNotFound) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Google Analytics is not connected",
			})
		}
		ctx.Logger.Error("Failed to load GA account", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load Google Analytics connection",
		})
	}
	if !account.Connected() {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No GA4 property selected",
		})
	}

	s := newSyncer(ctx)
	days := requestedDays(ctx, adminSyncDefaultDays)

	result, err := s.SyncUser(context.Background(), account, s.Window(days))
	if err != nil {
		ctx.Logger.Error("On-demand sync failed",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))

		var upstream *ga.UpstreamError
		if errors.As(err, &upstream) {
			return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": upstream.Error(),
			})
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Sync failed",
		})
	}

	return ctx.JSON(fiber.Map{
		"days":   result.Days,
		"events": result.Events,
	})
}

// SyncRunBatchAction runs the pipeline for every connected account. Reached
// only through the API-key middleware; meant for external schedulers.
func SyncRunBatchAction(ctx *cartridge.Context) error {
	s := newSyncer(ctx)
	days := requestedDays(ctx, 0)

	results, err := s.SyncAll(context.Background(), s.Window(days))
	if err != nil {
		ctx.Logger.Error("Batch sync failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Batch sync failed",
		})
	}

	return ctx.JSON(fiber.Map{"results": results})
}

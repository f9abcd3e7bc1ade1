package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/oauth2"
	"log/slog"

	"statsnap/internal/config"
	"statsnap/internal/ga"
)

// oauthStateCookie carries the CSRF state between the consent redirect and
// the callback.
const oauthStateCookie = "statsnap_oauth_state"

// ConnectGoogleAction starts the consent flow: stores a state token and
// redirects the browser to Google. access_type=offline with forced consent is
// the only combination that reliably yields a refresh token.
func ConnectGoogleAction(ctx *cartridge.Context) error {
	if _, err := currentUser(ctx); err != nil {
		return unauthorized(ctx)
	}

	state := newStateToken()
	ctx.Cookie(&fiber.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		Expires:  time.Now().Add(10 * time.Minute),
		Secure:   ctx.Config.IsProduction(),
		HTTPOnly: true,
		SameSite: "Lax",
	})

	cfg := config.GetConfig()
	url := ga.OAuthConfig(cfg).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	return ctx.Redirect(url, fiber.StatusFound)
}

// GoogleCallbackAction handles the redirect back from Google: verifies state,
// exchanges the code and stores the credential. The property still has to be
// selected afterwards.
func GoogleCallbackAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}

	if denied := ctx.Query("error"); denied != "" {
		ctx.Logger.Warn("Google consent denied", slog.String("reason", denied))
		return ctx.Redirect("/admin/connect?error=consent_denied", fiber.StatusFound)
	}

	state := ctx.Query("state")
	if state == "" || state != ctx.Cookies(oauthStateCookie) {
		ctx.Logger.Warn("OAuth state mismatch", slog.String("userID", user.PublicID))
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid OAuth state",
		})
	}
	ctx.ClearCookie(oauthStateCookie)

	code := ctx.Query("code")
	if code == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing authorization code",
		})
	}

	cfg := config.GetConfig()
	token, err := ga.OAuthConfig(cfg).Exchange(context.Background(), code)
	if err != nil {
		ctx.Logger.Error("Code exchange failed",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))
		return ctx.Redirect("/admin/connect?error=exchange_failed", fiber.StatusFound)
	}

	if err := ga.SaveTokens(ctx.DB(), ctx.Logger, user.PublicID, token); err != nil {
		ctx.Logger.Error("Failed to store credential",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store Google credential",
		})
	}

	ctx.Logger.Info("Google Analytics connected", slog.String("userID", user.PublicID))
	return ctx.Redirect("/admin/connect", fiber.StatusFound)
}

// ListPropertiesAction lists the GA4 properties the stored credential can see
func ListPropertiesAction(ctx *cartridge.Context) error {
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
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load Google Analytics connection",
		})
	}

	cfg := config.GetConfig()
	client := ga.NewClient(ctx.DB(), ctx.Logger, cfg)
	properties, err := client.ListProperties(context.Background(), account)
	if err != nil {
		ctx.Logger.Error("Failed to list properties",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to list Google Analytics properties",
		})
	}

	return ctx.JSON(fiber.Map{"properties": properties})
}

// SetPropertyAction saves which GA4 property to sync
func SetPropertyAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}

	propertyID := ctx.FormValue("property_id")
	if propertyID == "" {
		var jsonBody struct {
			PropertyID string `json:"property_id"`
		}
		if err := ctx.BodyParser(&jsonBody); err == nil {
			propertyID = jsonBody.PropertyID
		}
	}
	if propertyID == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "property_id is required",
		})
	}

	if err := ga.SetProperty(ctx.DB(), ctx.Logger, user.PublicID, propertyID); err != nil {
		if errors.Is(err, ga.ErrAccountNotFound) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Google Analytics is not connected",
			})
		}
		ctx.Logger.Error("Failed to save property selection",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save property selection",
		})
	}

	return ctx.JSON(fiber.Map{"property_id": propertyID})
}

// DisconnectAction removes the stored Google credential. Synced metrics and
// events are kept.
func DisconnectAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}

	if err := ga.DeleteAccount(ctx.DB(), ctx.Logger, user.PublicID); err != nil {
		ctx.Logger.Error("Failed to disconnect Google Analytics",
			slog.String("userID", user.PublicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to disconnect",
		})
	}

	ctx.Logger.Info("Google Analytics disconnected", slog.String("userID", user.PublicID))
	return ctx.JSON(fiber.Map{"ok": true})
}

func newStateToken() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/crypto"
	"log/slog"

	"statsnap/internal/users"
)

var errUnauthenticated = errors.New("authentication required")

// currentUser resolves the signed-in user from the session. Data access is
// keyed by the user's PublicID.
func currentUser(ctx *cartridge.Context) (*users.User, error) {
	userID, authenticated := ctx.Session.GetUserID(ctx.Ctx)
	if !authenticated {
		return nil, errUnauthenticated
	}
	return users.FindByID(ctx.DB(), userID)
}

// unauthorized renders the standard 401 body.
func unauthorized(ctx *cartridge.Context) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Authentication required",
	})
}

// ProcessLoginAction handles the login submission. Accepts form fields or a
// JSON body and answers in JSON; the dashboard SPA drives the flow.
func ProcessLoginAction(ctx *cartridge.Context) error {
	email := ctx.FormValue("email")
	password := ctx.FormValue("password")

	if email == "" && password == "" {
		var jsonBody struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := ctx.BodyParser(&jsonBody); err == nil {
			email = jsonBody.Email
			password = jsonBody.Password
		}
	}

	if email == "" || password == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email and password are required",
		})
	}

	db := ctx.DB()
	user, lookupErr := users.FindByEmail(db, email)

	// Always verify a password so response time does not reveal whether the
	// email exists.
	var passwordValid bool
	if lookupErr != nil {
		ctx.Logger.Debug("User not found during login", slog.String("email", email))
		dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy" // bcrypt hash of "dummy"
		crypto.VerifyPassword(dummyHash, password)
	} else {
		passwordValid = crypto.VerifyPassword(user.EncryptedPassword, password)
		if !passwordValid {
			ctx.Logger.Debug("Invalid password attempt", slog.String("email", email))
		}
	}

	if !passwordValid {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	if err := ctx.Session.SetSession(ctx.Ctx, user.ID); err != nil {
		ctx.Logger.Error("Failed to set session", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Login failed",
		})
	}

	ctx.Logger.Debug("Login successful",
		slog.String("email", email),
		slog.Int("userId", int(user.ID)))

	return ctx.JSON(fiber.Map{
		"user_id":  user.PublicID,
		"email":    user.Email,
		"is_admin": user.IsAdmin,
	})
}

// LogoutAction clears the session
func LogoutAction(ctx *cartridge.Context) error {
	ctx.Session.ClearSession(ctx.Ctx)
	return ctx.JSON(fiber.Map{"ok": true})
}

// MeAction returns the signed-in user's profile and connection state
func MeAction(ctx *cartridge.Context) error {
	user, err := currentUser(ctx)
	if err != nil {
		return unauthorized(ctx)
	}
	return ctx.JSON(fiber.Map{
		"user_id":  user.PublicID,
		"email":    user.Email,
		"is_admin": user.IsAdmin,
	})
}

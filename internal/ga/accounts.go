// Package ga holds the Google Analytics connection for each user: the OAuth
// credential record, token refresh, and the report fetcher that pulls daily
// metrics, top pages and referrers from the GA4 Data API.
package ga

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"statsnap/internal/config"
)

// analyticsReadScope is the only scope statsnap asks for.
const analyticsReadScope = "https://www.googleapis.com/auth/analytics.readonly"

// ErrAccountNotFound is returned when a user has no Google Analytics
// connection.
var ErrAccountNotFound = errors.New("google analytics account not found")

// Account stores one user's Google Analytics connection: the selected GA4
// property and the OAuth credential for it. One connection per user.
type Account struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"uniqueIndex;size:64;not null"`
	PropertyID   string `gorm:"size:64"` // numeric GA4 property id; empty until selected
	AccessToken  string `gorm:"not null"`
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "ga_accounts"
}

// OAuthToken converts the stored credential into an explicit token value.
// Refreshing never mutates the account in place; the refreshed token is
// written back through UpdateTokens.
func (a *Account) OAuthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		Expiry:       a.TokenExpiry,
		TokenType:    "Bearer",
	}
}

// Connected reports whether the account has a property selected and can be
// synced.
func (a *Account) Connected() bool {
	return a.PropertyID != ""
}

// OAuthConfig builds the oauth2 client configuration from app config.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.BaseURL + "/auth/callback/google",
		Scopes:       []string{analyticsReadScope},
	}
}

// GetAccountByUser retrieves a user's Google Analytics connection.
func GetAccountByUser(db *gorm.DB, userID string) (*Account, error) {
	var account Account
	if err := db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load ga account: %w", err)
	}
	return &account, nil
}

// GetConnectedAccounts returns every account with a selected property,
// i.e. the set of users the scheduled sync covers.
func GetConnectedAccounts(db *gorm.DB) ([]Account, error) {
	var accounts []Account
	if err := db.Where("property_id <> ''").Order("user_id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	return accounts, nil
}

// SaveTokens creates or updates a user's connection with a freshly exchanged
// token, keeping any previously selected property. An empty refresh token on
// re-auth keeps the stored one (Google only returns it on first consent).
func SaveTokens(db *gorm.DB, logger *slog.Logger, userID string, token *oauth2.Token) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	now := time.Now().UTC()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO ga_accounts (user_id, property_id, access_token, refresh_token, token_expiry, created_at, updated_at)
            VALUES (?, '', ?, ?, ?, ?, ?)
            ON CONFLICT (user_id) DO UPDATE SET
                access_token = excluded.access_token,
                refresh_token = CASE WHEN excluded.refresh_token <> '' THEN excluded.refresh_token ELSE ga_accounts.refresh_token END,
                token_expiry = excluded.token_expiry,
                updated_at = excluded.updated_at
        `, userID, token.AccessToken, token.RefreshToken, token.Expiry.UTC(), now, now).Error
	})
}

// UpdateTokens persists a refreshed credential value for an existing account.
func UpdateTokens(db *gorm.DB, logger *slog.Logger, userID string, token *oauth2.Token) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Account{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"access_token": token.AccessToken,
			"token_expiry": token.Expiry.UTC(),
			"updated_at":   time.Now().UTC(),
		}).Error
	})
}

// SetProperty records which GA4 property the user picked on the connect
// screen.
func SetProperty(db *gorm.DB, logger *slog.Logger, userID, propertyID string) error {
	if propertyID == "" {
		return fmt.Errorf("property ID is required")
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Account{}).Where("user_id = ?", userID).Updates(map[string]interface{}{
			"property_id": propertyID,
			"updated_at":  time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}

// DeleteAccount disconnects a user from Google Analytics. Stored metrics and
// events survive the disconnect; only the credential goes away.
func DeleteAccount(db *gorm.DB, logger *slog.Logger, userID string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Where("user_id = ?", userID).Delete(&Account{}).Error
	})
}

package settings

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Setting keys
const (
	// KeySyncAPIKey guards the external sync trigger endpoint.
	KeySyncAPIKey = "sync_api_key"
	// KeyLastSyncAt records when the scheduled sync last completed.
	KeyLastSyncAt = "last_sync_at"
)

var syncAPIKeyCache *cache.Cache[string, string]

// SetupDefaultSettings initializes default settings in the database
func SetupDefaultSettings(dbConn *gorm.DB) error {
	settings := []Setting{
		{Key: KeySyncAPIKey, Value: generateRandomToken(32)},
		{Key: KeyLastSyncAt, Value: ""},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range settings {
			// Use raw SQL for upsert
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				slog.Default().Error("Failed to upsert setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	// Initialize the cache
	loadCache(dbConn, slog.Default())

	return err
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)

	if result.Error != nil {
		return "", result.Error
	}

	return setting.Value, nil
}

// UpdateSetting updates a setting in the database using a transaction
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting: %w", result.Error)
		}

		// If no rows were affected, the setting might not exist - create it
		if result.RowsAffected == 0 {
			if err := tx.Create(&Setting{Key: key, Value: value}).Error; err != nil {
				return fmt.Errorf("failed to create setting: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Clear and reload the cache after successful update
	if syncAPIKeyCache != nil {
		syncAPIKeyCache.Clear()
	}
	loadCache(dbConn, slog.Default())

	return nil
}

// CreateOrUpdateSetting creates a new setting or updates an existing one
func CreateOrUpdateSetting(dbConn *gorm.DB, key string, value string) error {
	return UpdateSetting(dbConn, key, value)
}

// MarkSyncCompleted records the completion time of a sync pass.
func MarkSyncCompleted(dbConn *gorm.DB, at time.Time) error {
	return CreateOrUpdateSetting(dbConn, KeyLastSyncAt, at.UTC().Format(time.RFC3339))
}

// GetLastSyncAt returns when the sync last completed, or the zero time when
// it never has.
func GetLastSyncAt(dbConn *gorm.DB) (time.Time, error) {
	value, err := GetSetting(dbConn, KeyLastSyncAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// GetSyncAPIKey retrieves the sync trigger API key
func GetSyncAPIKey(db *gorm.DB) (string, error) {
	return GetSetting(db, KeySyncAPIKey)
}

// GetOrCreateSyncAPIKey returns the existing API key or generates a new one
func GetOrCreateSyncAPIKey(db *gorm.DB) (string, error) {
	key, err := GetSyncAPIKey(db)
	if err == nil && key != "" {
		return key, nil
	}
	return RegenerateSyncAPIKey(db)
}

// RegenerateSyncAPIKey creates a new random API key, replacing the old one
func RegenerateSyncAPIKey(db *gorm.DB) (string, error) {
	key := generateRandomToken(32)
	if err := CreateOrUpdateSetting(db, KeySyncAPIKey, key); err != nil {
		return "", err
	}
	return key, nil
}

// VerifySyncAPIKey checks a presented key against the stored one in constant
// time. The stored key is served from a short-lived cache so the check does
// not hit the database on every request.
func VerifySyncAPIKey(db *gorm.DB, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}

	var stored string
	var err error
	if syncAPIKeyCache != nil {
		stored, err = syncAPIKeyCache.Get(KeySyncAPIKey)
	} else {
		stored, err = GetSyncAPIKey(db)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load sync API key: %w", err)
	}
	if stored == "" {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1, nil
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) (string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return "", err
		}
		return value, nil
	}
	syncAPIKeyCache = cache.NewCache[string, string](logger, 5*time.Minute, fetchFunc)
}

// generateRandomToken creates a cryptographically secure random token
func generateRandomToken(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[randInt(len(charset))]
	}
	return string(b)
}

// randInt returns a cryptographically secure random int in [0, max)
func randInt(max int) int {
	var buf [1]byte
	_, _ = rand.Read(buf[:])
	return int(buf[0]) % max
}

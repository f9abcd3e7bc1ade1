package events

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"statsnap/internal/metrics"
	"statsnap/internal/timeframe"
)

// Detection thresholds for day-over-day comparisons.
const (
	spikeFactor      = 1.5
	dropFactor       = 0.7
	dropMinYesterday = 10
)

// DetectEvents runs one forward pass over an ascending daily metric sequence
// and returns the events it implies. The rules are evaluated independently,
// so a single day can contribute several events. Deterministic for a given
// sequence; sequences shorter than 2 days produce nothing.
func DetectEvents(rows []metrics.DailyMetric) []Event {
	if len(rows) < 2 {
		return nil
	}

	var detected []Event

	// Spikes, drops and milestone crossings all compare adjacent day pairs.
	for i := 1; i < len(rows); i++ {
		yesterday := rows[i-1]
		today := rows[i]

		if yesterday.Visitors > 0 && float64(today.Visitors) > float64(yesterday.Visitors)*spikeFactor {
			pct := int(math.Round(float64(today.Visitors-yesterday.Visitors) / float64(yesterday.Visitors) * 100))
			detected = append(detected, newSpikeEvent(today.Date, pct))
		}

		if yesterday.Visitors > dropMinYesterday && float64(today.Visitors) < float64(yesterday.Visitors)*dropFactor {
			pct := int(math.Round(float64(yesterday.Visitors-today.Visitors) / float64(yesterday.Visitors) * 100))
			detected = append(detected, newDropEvent(today.Date, pct))
		}

		// One event per threshold crossed; a big jump can cross several at once.
		for _, threshold := range MilestoneThresholds {
			if yesterday.Visitors < threshold && today.Visitors >= threshold {
				detected = append(detected, newMilestoneEvent(today.Date, threshold))
			}
		}
	}

	// Growth streaks: a run of consecutive increases is reported when it
	// terminates, dated at the last increasing day.
	streakDays := 1
	for i := 1; i < len(rows); i++ {
		if rows[i].Visitors > rows[i-1].Visitors {
			streakDays++
			continue
		}
		if streakDays >= minStreakDays {
			detected = append(detected, newStreakEvent(rows[i-1].Date, streakDays))
		}
		streakDays = 1
	}
	// A streak still in progress at the end of the window is flushed too.
	if streakDays >= minStreakDays {
		detected = append(detected, newStreakEvent(rows[len(rows)-1].Date, streakDays))
	}

	return detected
}

// DetectAndStore reads a user's metrics inside the window (ascending), runs
// the detection pass and upserts the resulting events. Each event is written
// with an ON CONFLICT upsert on the (user_id, date, event_type, value) key,
// so re-running detection over the same window never duplicates rows.
// Returns the number of events detected.
func DetectAndStore(db *gorm.DB, logger *slog.Logger, userID string, window timeframe.DayRange) (int, error) {
	rows, err := metrics.GetRange(db, userID, window)
	if err != nil {
		return 0, fmt.Errorf("failed to read metrics for event detection: %w", err)
	}

	if len(rows) == 0 {
		logger.Debug("No metrics in detection window, skipping", slog.String("userID", userID))
		return 0, nil
	}

	detected := DetectEvents(rows)
	if len(detected) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		for _, event := range detected {
			err := tx.Exec(`
                INSERT INTO events (user_id, date, event_type, title, description, value, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT (user_id, date, event_type, value) DO UPDATE SET
                    title = excluded.title,
                    description = excluded.description,
                    updated_at = excluded.updated_at
            `, userID, event.Date, event.EventType, event.Title, event.Description, event.Value, now, now).Error
			if err != nil {
				return fmt.Errorf("failed to upsert %s event for %s: %w", event.EventType, event.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Event detection completed",
		slog.String("userID", userID),
		slog.Int("detected", len(detected)),
		slog.String("from", window.FromString()),
		slog.String("to", window.ToString()))

	return len(detected), nil
}

// GetRange fetches a user's events inside the range, ascending by date.
func GetRange(db *gorm.DB, userID string, r timeframe.DayRange) ([]Event, error) {
	var rows []Event
	err := db.Where("user_id = ? AND date >= ? AND date <= ?", userID, r.FromString(), r.ToString()).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching events: %w", err)
	}
	return rows, nil
}

// DeleteOlderThan removes events before the cutoff date. Used by the
// retention job.
func DeleteOlderThan(db *gorm.DB, logger *slog.Logger, cutoffDate string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("date < ?", cutoffDate).Delete(&Event{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

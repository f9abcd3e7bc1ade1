// Package events derives and stores notable-event annotations (spikes, drops,
// milestones, growth streaks) from a user's stored daily metric sequence.
// Events are pure derived annotations: the detector only ever writes them,
// and deleting the underlying metric rows does not retract them.
package events

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// EventType classifies a detected notable event.
type EventType string

const (
	EventSpike     EventType = "spike"
	EventDrop      EventType = "drop"
	EventMilestone EventType = "milestone"
	EventStreak    EventType = "streak"
)

// Event is one detected annotation on a user's traffic timeline.
//
// The composite unique index makes re-detection idempotent: running the
// detector twice over the same stored sequence upserts into the same rows.
// Value participates in the key because one day can cross several milestone
// thresholds, each of which is a distinct event.
type Event struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"uniqueIndex:idx_events_unique;size:64;not null" json:"user_id"`
	Date        string    `gorm:"uniqueIndex:idx_events_unique;size:10;not null" json:"date"` // YYYY-MM-DD
	EventType   EventType `gorm:"uniqueIndex:idx_events_unique;size:20;not null" json:"event_type"`
	Title       string    `gorm:"not null;size:255" json:"title"`
	Description string    `gorm:"size:1000" json:"description"`
	Value       int       `gorm:"uniqueIndex:idx_events_unique;not null;default:0" json:"value"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName specifies the table name for GORM
func (Event) TableName() string {
	return "events"
}

// MilestoneThresholds are the fixed visitor-count levels reported once per
// same-day crossing, in ascending order.
var MilestoneThresholds = []int{100, 500, 1000, 5000, 10000}

// minStreakDays is the shortest consecutive-growth run worth reporting.
const minStreakDays = 5

// numPrinter formats visitor counts with thousands separators for titles
// ("1,000 Visitors Milestone").
var numPrinter = message.NewPrinter(language.English)

func newSpikeEvent(date string, pctIncrease int) Event {
	return Event{
		Date:        date,
		EventType:   EventSpike,
		Title:       "Traffic Spike",
		Description: fmt.Sprintf("Your traffic increased by %d%% from yesterday", pctIncrease),
		Value:       pctIncrease,
	}
}

func newDropEvent(date string, pctDecrease int) Event {
	return Event{
		Date:        date,
		EventType:   EventDrop,
		Title:       "Traffic Drop",
		Description: fmt.Sprintf("Your traffic decreased by %d%% from yesterday", pctDecrease),
		Value:       pctDecrease,
	}
}

func newMilestoneEvent(date string, threshold int) Event {
	return Event{
		Date:        date,
		EventType:   EventMilestone,
		Title:       numPrinter.Sprintf("%d Visitors Milestone", threshold),
		Description: numPrinter.Sprintf("Congratulations! Your site reached %d visitors in a day", threshold),
		Value:       threshold,
	}
}

func newStreakEvent(date string, days int) Event {
	return Event{
		Date:        date,
		EventType:   EventStreak,
		Title:       fmt.Sprintf("%d Day Growth Streak", days),
		Description: fmt.Sprintf("Your site had %d consecutive days of traffic growth", days),
		Value:       days,
	}
}

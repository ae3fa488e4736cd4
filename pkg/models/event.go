package models

import (
	"fmt"
	"strings"
	"time"
)

// StartTimeLayout is the canonical wall-clock form of Event.StartTime, matching how
// postgres renders a TIME column.
const StartTimeLayout = "15:04:05"

var startTimeLayouts = []string{StartTimeLayout, "15:04", "15:04:05.999999"}

// Event is a recurring listing owned by a venue. (VenueID, DayOfWeek, StartTime) is unique.
// DayOfWeek follows time.Weekday, Sunday is 0.
type Event struct {
	ID         int64     `json:"id"`
	VenueID    int64     `json:"venue_id"`
	Title      string    `json:"title,omitempty"`
	DayOfWeek  int       `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EventSlot is the (day, time) portion of the event uniqueness key.
type EventSlot struct {
	DayOfWeek int
	StartTime string
}

// Slot keys the event on its canonical start time so "19:00" and "19:00:00" collide.
func (e Event) Slot() EventSlot {
	start, err := NormalizeStartTime(e.StartTime)
	if err != nil {
		start = e.StartTime
	}
	return EventSlot{DayOfWeek: e.DayOfWeek, StartTime: start}
}

func (s EventSlot) String() string {
	return fmt.Sprintf("%d@%s", s.DayOfWeek, s.StartTime)
}

// NormalizeStartTime rewrites a wall-clock time into StartTimeLayout.
func NormalizeStartTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(StartTimeLayout), nil
		}
	}
	return "", fmt.Errorf("start time %q: %w", s, ErrInvalidOption)
}

// IsDayOfWeek reports whether day is in the 0 (Sunday) to 6 (Saturday) range.
func IsDayOfWeek(day int) bool {
	return day >= int(time.Sunday) && day <= int(time.Saturday)
}

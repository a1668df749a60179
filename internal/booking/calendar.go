package booking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultSlotDuration is how long a reservation blocks the calendar when
// the caller does not say otherwise.
const DefaultSlotDuration = 2 * time.Hour

// Suggestion window when no open/close hours are configured: dinner
// service from 5 pm to 9 pm.
const (
	DefaultOpenHour  = 17
	DefaultCloseHour = 21
)

// Availability is the outcome of a calendar conflict check.
type Availability struct {
	Available      bool      `json:"available"`
	RequestedTime  time.Time `json:"requestedTime"`
	Conflict       *Event    `json:"conflict,omitempty"`
	SuggestedTimes []string  `json:"suggestedTimes,omitempty"`
}

var timePattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// ParseDateTime resolves the loose date and time strings a voice
// conversation produces ("tomorrow", "2026-03-15", "7pm", "19:30") into a
// concrete time relative to now. Unparseable input
// falls back to today at 7 pm, matching what the concierge suggests by
// default.
func ParseDateTime(dateStr, timeStr string, now time.Time) time.Time {
	target := now

	switch dateLower := strings.ToLower(strings.TrimSpace(dateStr)); {
	case dateLower == "today":
		// already now
	case dateLower == "tomorrow":
		target = now.AddDate(0, 0, 1)
	case strings.Contains(dateLower, "day after tomorrow"):
		target = now.AddDate(0, 0, 2)
	default:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "January 2, 2006", "Jan 2, 2006"} {
			if parsed, err := time.ParseInLocation(layout, strings.TrimSpace(dateStr), now.Location()); err == nil {
				target = parsed
				break
			}
		}
	}

	hours, minutes := 19, 0
	if m := timePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(timeStr))); m != nil {
		hours, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minutes, _ = strconv.Atoi(m[2])
		}
		switch m[3] {
		case "pm":
			if hours < 12 {
				hours += 12
			}
		case "am":
			if hours == 12 {
				hours = 0
			}
		}
	}

	return time.Date(target.Year(), target.Month(), target.Day(), hours, minutes, 0, 0, now.Location())
}

// CheckAvailability reports whether a slot of the given duration starting
// at requested overlaps any event. On a conflict it also proposes up to
// three free whole-hour alternatives between openHour and closeHour on
// the same day, skipping the requested hour itself.
func CheckAvailability(events []Event, requested time.Time, slot time.Duration, openHour, closeHour int) Availability {
	if slot <= 0 {
		slot = DefaultSlotDuration
	}
	requestedEnd := requested.Add(slot)

	for i := range events {
		ev := events[i]
		if requested.Before(ev.End) && requestedEnd.After(ev.Start) {
			return Availability{
				Available:      false,
				RequestedTime:  requested,
				Conflict:       &ev,
				SuggestedTimes: suggestTimes(events, requested, slot, openHour, closeHour),
			}
		}
	}

	return Availability{Available: true, RequestedTime: requested}
}

func suggestTimes(events []Event, requested time.Time, slot time.Duration, openHour, closeHour int) []string {
	var suggested []string
	for hour := openHour; hour <= closeHour && len(suggested) < 3; hour++ {
		candidate := time.Date(requested.Year(), requested.Month(), requested.Day(),
			hour, 0, 0, 0, requested.Location())
		if candidate.Equal(requested) {
			continue
		}
		candidateEnd := candidate.Add(slot)

		free := true
		for _, ev := range events {
			if candidate.Before(ev.End) && candidateEnd.After(ev.Start) {
				free = false
				break
			}
		}
		if free {
			suggested = append(suggested, candidate.Format("3:04 PM"))
		}
	}
	return suggested
}

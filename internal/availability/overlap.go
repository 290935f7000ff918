package availability

import (
	"fmt"
	"strconv"

	"adoption-workflow/internal/models"
)

// Overlaps is the half-open interval test [aStart, aEnd) against [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// Conflicts returns the active interviews in existing that overlap [start, start+duration).
// excludeID skips the interview being moved.
func Conflicts(start, duration int, existing []models.Interview, excludeID string) []Conflict {
	var out []Conflict
	end := start + duration
	for i := range existing {
		iv := &existing[i]
		if iv.ID == excludeID || !iv.Status.IsActive() {
			continue
		}
		ivStart, err := ParseClock(iv.ScheduledTime)
		if err != nil {
			continue
		}
		ivDuration := iv.EffectiveDuration()
		if Overlaps(start, end, ivStart, ivStart+ivDuration) {
			out = append(out, Conflict{
				InterviewID:     iv.ID,
				Type:            iv.Type,
				Time:            iv.ScheduledTime,
				DurationMinutes: ivDuration,
				EndTime:         FormatClock(ivStart + ivDuration),
			})
		}
	}
	return out
}

// ParseClock parses HH:MM into minutes past midnight.
func ParseClock(clock string) (int, error) {
	if len(clock) != 5 || clock[2] != ':' {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", clock)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if clock[i] < '0' || clock[i] > '9' {
			return 0, fmt.Errorf("invalid time %q, expected HH:MM", clock)
		}
	}
	h, _ := strconv.Atoi(clock[:2])
	m, _ := strconv.Atoi(clock[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid time %q, out of range", clock)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes past midnight as HH:MM. Values past midnight keep counting hours.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

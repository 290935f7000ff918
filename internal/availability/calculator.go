// Package availability computes free and busy interview slots for a shelter day.
package availability

import (
	"fmt"
	"time"

	"adoption-workflow/internal/models"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Options configures the shelter calendar. Zero values fall back to 09:00-19:30, 30 minute steps, UTC.
type Options struct {
	Location      *time.Location
	BusinessStart string
	BusinessEnd   string
	SlotMinutes   int
	Now           func() time.Time
}

// Calculator generates candidate slots and tests them against existing bookings.
// It is safe for concurrent use.
type Calculator struct {
	loc   *time.Location
	open  int
	close int
	step  int
	now   func() time.Time
}

func NewCalculator(opts Options) (*Calculator, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BusinessStart == "" {
		opts.BusinessStart = "09:00"
	}
	if opts.BusinessEnd == "" {
		opts.BusinessEnd = "19:30"
	}
	if opts.SlotMinutes <= 0 {
		opts.SlotMinutes = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	open, err := ParseClock(opts.BusinessStart)
	if err != nil {
		return nil, fmt.Errorf("business start: %w", err)
	}
	closing, err := ParseClock(opts.BusinessEnd)
	if err != nil {
		return nil, fmt.Errorf("business end: %w", err)
	}
	if closing < open {
		return nil, fmt.Errorf("business end %s is before start %s", opts.BusinessEnd, opts.BusinessStart)
	}

	return &Calculator{
		loc:   opts.Location,
		open:  open,
		close: closing,
		step:  opts.SlotMinutes,
		now:   opts.Now,
	}, nil
}

// Conflict describes an existing interview that overlaps a candidate interval.
type Conflict struct {
	InterviewID     string               `json:"interviewId,omitempty"`
	Type            models.InterviewType `json:"type"`
	Time            string               `json:"time"`
	DurationMinutes int                  `json:"durationMinutes"`
	EndTime         string               `json:"endTime"`
}

type Slot struct {
	Time      string     `json:"time"`
	EndTime   string     `json:"endTime"`
	Available bool       `json:"available"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Availability is the calculator output for one shelter day.
type Availability struct {
	ShelterID       string `json:"shelterId"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"durationMinutes"`
	Slots           []Slot `json:"slots"`
	TotalSlots      int    `json:"totalSlots"`
	AvailableSlots  int    `json:"availableSlots"`
}

// Redacted returns a copy without interview IDs, for callers outside the shelter.
func (a *Availability) Redacted() *Availability {
	out := *a
	out.Slots = make([]Slot, len(a.Slots))
	for i, s := range a.Slots {
		if len(s.Conflicts) > 0 {
			conflicts := make([]Conflict, len(s.Conflicts))
			for j, c := range s.Conflicts {
				c.InterviewID = ""
				conflicts[j] = c
			}
			s.Conflicts = conflicts
		}
		out.Slots[i] = s
	}
	return &out
}

// Compute lists every candidate start for date with its availability. Only active interviews in
// existing are considered; slots that would run past closing are kept as they are.
func (c *Calculator) Compute(shelterID, date string, duration int, existing []models.Interview) (*Availability, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = models.DefaultInterviewDuration
	}

	now := c.now().In(c.loc)
	sameDay := now.Format(DateLayout) == day.Format(DateLayout)

	out := &Availability{
		ShelterID:       shelterID,
		Date:            date,
		DurationMinutes: duration,
		Slots:           []Slot{},
	}

	for start := c.open; start <= c.close; start += c.step {
		if sameDay && !day.Add(time.Duration(start)*time.Minute).After(now) {
			continue
		}

		conflicts := Conflicts(start, duration, existing, "")
		slot := Slot{
			Time:      FormatClock(start),
			EndTime:   FormatClock(start + duration),
			Available: len(conflicts) == 0,
			Conflicts: conflicts,
		}
		out.Slots = append(out.Slots, slot)
		if slot.Available {
			out.AvailableSlots++
		}
	}
	out.TotalSlots = len(out.Slots)

	return out, nil
}

// WithinBusinessHours reports whether start (minutes past midnight) is a bookable start.
func (c *Calculator) WithinBusinessHours(start int) bool {
	return start >= c.open && start <= c.close
}

// StartsAfterNow reports whether date/clock lies strictly in the future.
func (c *Calculator) StartsAfterNow(date string, start int) (bool, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return false, err
	}
	return day.Add(time.Duration(start) * time.Minute).After(c.now()), nil
}

// StartTime returns the absolute start of an interview in the shelter time zone.
func (c *Calculator) StartTime(date, clock string) (time.Time, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(minutes) * time.Minute), nil
}

// ParseDate parses YYYY-MM-DD as midnight in the shelter time zone.
func (c *Calculator) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return day, nil
}

func (c *Calculator) Location() *time.Location { return c.loc }

// Now returns the calculator clock in the shelter time zone.
func (c *Calculator) Now() time.Time { return c.now().In(c.loc) }

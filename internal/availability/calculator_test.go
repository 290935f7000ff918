package availability

import (
	"testing"
	"time"

	"adoption-workflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==== Test Helper Functions ====

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCalculator(t *testing.T, now time.Time) *Calculator {
	t.Helper()
	calc, err := NewCalculator(Options{Now: fixedClock(now)})
	require.NoError(t, err)
	return calc
}

func booking(id, clock string, duration int, status models.InterviewStatus) models.Interview {
	return models.Interview{
		ID:              id,
		ShelterID:       "shelter-1",
		Type:            models.InterviewTypeMeetGreet,
		Status:          status,
		ScheduledDate:   "2024-01-20",
		ScheduledTime:   clock,
		DurationMinutes: duration,
	}
}

func slotByTime(t *testing.T, a *Availability, clock string) Slot {
	t.Helper()
	for _, s := range a.Slots {
		if s.Time == clock {
			return s
		}
	}
	t.Fatalf("slot %s not found", clock)
	return Slot{}
}

// ==== Tests ====

func TestCompute_EmptyDay(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))

	got, err := calc.Compute("shelter-1", "2024-01-20", 60, nil)
	require.NoError(t, err)

	assert.Equal(t, 22, got.TotalSlots)
	assert.Equal(t, 22, got.AvailableSlots)
	assert.Equal(t, "09:00", got.Slots[0].Time)
	assert.Equal(t, "19:30", got.Slots[len(got.Slots)-1].Time)
	for _, s := range got.Slots {
		assert.True(t, s.Available, s.Time)
		assert.Empty(t, s.Conflicts)
	}
}

func TestCompute_LateSlotsAreNotClipped(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))

	got, err := calc.Compute("shelter-1", "2024-01-20", 120, nil)
	require.NoError(t, err)

	last := got.Slots[len(got.Slots)-1]
	assert.Equal(t, "19:30", last.Time)
	assert.Equal(t, "21:30", last.EndTime)
	assert.True(t, last.Available)
	assert.Equal(t, 22, got.TotalSlots)
}

func TestCompute_OverlapMarksConflicts(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))
	existing := []models.Interview{booking("iv-1", "10:00", 45, models.InterviewScheduled)}

	got, err := calc.Compute("shelter-1", "2024-01-20", 30, existing)
	require.NoError(t, err)

	assert.Equal(t, 22, got.TotalSlots)
	assert.Equal(t, 20, got.AvailableSlots)

	for _, clock := range []string{"10:00", "10:30"} {
		s := slotByTime(t, got, clock)
		assert.False(t, s.Available, clock)
		require.Len(t, s.Conflicts, 1)
		assert.Equal(t, Conflict{
			InterviewID:     "iv-1",
			Type:            models.InterviewTypeMeetGreet,
			Time:            "10:00",
			DurationMinutes: 45,
			EndTime:         "10:45",
		}, s.Conflicts[0])
	}

	// touching intervals do not overlap
	assert.True(t, slotByTime(t, got, "09:30").Available)
	assert.True(t, slotByTime(t, got, "11:00").Available)
}

func TestAvailability_Redacted(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))
	got, err := calc.Compute("shelter-1", "2024-01-20", 30, []models.Interview{booking("iv-1", "10:00", 60, models.InterviewScheduled)})
	require.NoError(t, err)

	redacted := got.Redacted()
	assert.Equal(t, got.AvailableSlots, redacted.AvailableSlots)
	conflict := slotByTime(t, redacted, "10:30").Conflicts[0]
	assert.Empty(t, conflict.InterviewID)
	assert.Equal(t, "11:00", conflict.EndTime)

	// the original is untouched
	assert.Equal(t, "iv-1", slotByTime(t, got, "10:30").Conflicts[0].InterviewID)
}

func TestCompute_DefaultsExistingDurationTo60(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))
	existing := []models.Interview{booking("iv-1", "14:00", 0, models.InterviewConfirmed)}

	got, err := calc.Compute("shelter-1", "2024-01-20", 30, existing)
	require.NoError(t, err)

	assert.False(t, slotByTime(t, got, "14:00").Available)
	assert.False(t, slotByTime(t, got, "14:30").Available)
	assert.True(t, slotByTime(t, got, "15:00").Available)
	assert.Equal(t, 60, slotByTime(t, got, "14:30").Conflicts[0].DurationMinutes)
}

func TestCompute_IgnoresInactiveInterviews(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))
	existing := []models.Interview{
		booking("iv-1", "10:00", 60, models.InterviewCancelled),
		booking("iv-2", "11:00", 60, models.InterviewCompleted),
		booking("iv-3", "12:00", 60, models.InterviewRescheduled),
	}

	got, err := calc.Compute("shelter-1", "2024-01-20", 60, existing)
	require.NoError(t, err)

	assert.True(t, slotByTime(t, got, "10:00").Available)
	assert.True(t, slotByTime(t, got, "11:00").Available)
	assert.False(t, slotByTime(t, got, "12:00").Available)
}

func TestCompute_SameDayDropsPastSlots(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantFirst string
		wantTotal int
	}{
		{"mid slot", time.Date(2024, 1, 20, 10, 15, 0, 0, time.UTC), "10:30", 19},
		{"exactly on slot start", time.Date(2024, 1, 20, 10, 30, 0, 0, time.UTC), "11:00", 18},
		{"before opening", time.Date(2024, 1, 20, 7, 0, 0, 0, time.UTC), "09:00", 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := newTestCalculator(t, tt.now)
			got, err := calc.Compute("shelter-1", "2024-01-20", 60, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, got.TotalSlots)
			assert.Equal(t, tt.wantFirst, got.Slots[0].Time)
		})
	}

	calc := newTestCalculator(t, time.Date(2024, 1, 20, 20, 0, 0, 0, time.UTC))
	got, err := calc.Compute("shelter-1", "2024-01-20", 60, nil)
	require.NoError(t, err)
	assert.Empty(t, got.Slots)
	assert.Zero(t, got.TotalSlots)
}

func TestCompute_SameDayUsesShelterTimezone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 14:00 UTC is 09:00 local
	calc, err := NewCalculator(Options{Location: loc, Now: fixedClock(time.Date(2024, 1, 20, 14, 0, 0, 0, time.UTC))})
	require.NoError(t, err)

	got, err := calc.Compute("shelter-1", "2024-01-20", 60, nil)
	require.NoError(t, err)
	assert.Equal(t, "09:30", got.Slots[0].Time)
}

func TestCompute_Idempotent(t *testing.T) {
	calc := newTestCalculator(t, time.Date(2024, 1, 19, 12, 0, 0, 0, time.UTC))
	existing := []models.Interview{
		booking("iv-1", "10:00", 45, models.InterviewScheduled),
		booking("iv-2", "15:30", 90, models.InterviewConfirmed),
	}

	first, err := calc.Compute("shelter-1", "2024-01-20", 60, existing)
	require.NoError(t, err)
	second, err := calc.Compute("shelter-1", "2024-01-20", 60, existing)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompute_InvalidDate(t *testing.T) {
	calc := newTestCalculator(t, time.Now())
	_, err := calc.Compute("shelter-1", "20-01-2024", 60, nil)
	assert.Error(t, err)
}

func TestNewCalculator_CustomHours(t *testing.T) {
	calc, err := NewCalculator(Options{
		BusinessStart: "10:00",
		BusinessEnd:   "12:00",
		SlotMinutes:   60,
		Now:           fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	got, err := calc.Compute("s", "2024-01-20", 60, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalSlots)

	_, err = NewCalculator(Options{BusinessStart: "18:00", BusinessEnd: "09:00"})
	assert.Error(t, err)
	_, err = NewCalculator(Options{BusinessStart: "9am"})
	assert.Error(t, err)
}

func TestConflicts_ExcludesMovedInterview(t *testing.T) {
	existing := []models.Interview{
		booking("iv-1", "10:00", 60, models.InterviewScheduled),
		booking("iv-2", "10:30", 30, models.InterviewScheduled),
	}

	got := Conflicts(600, 60, existing, "iv-1")
	require.Len(t, got, 1)
	assert.Equal(t, "iv-2", got[0].InterviewID)

	assert.Empty(t, Conflicts(660, 30, existing, ""))
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:30", 0, true},
		{"09:60", 0, true},
		{"ab:cd", 0, true},
		{"+1:30", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, FormatClock(got))
		})
	}
}

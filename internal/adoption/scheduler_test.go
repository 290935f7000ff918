package adoption

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/cache"
	"adoption-workflow/internal/common/errors"
	"adoption-workflow/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSchedule_MeetGreetMovesApplicationAndNotifiesAdopter(t *testing.T) {
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")

	iv := f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "14:00", 0)
	assert.Equal(t, models.InterviewScheduled, iv.Status)
	assert.Equal(t, 60, iv.DurationMinutes)
	assert.Equal(t, "Shelter", iv.Location)
	assert.Equal(t, adopter.UserID, iv.AdopterID)
	assert.Equal(t, "shelter-1", iv.ShelterID)

	assert.Equal(t, models.StatusMeetGreetScheduled, f.application(t, app.ID).Status)

	scheduled := f.notifications(t, adopter.UserID, models.NotificationInterviewScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "Meet & Greet scheduled", scheduled[0].Title)
	assert.Equal(t, "Your Meet & Greet is scheduled for 2024-01-20 at 14:00 (60 minutes) at Shelter.", scheduled[0].Message)
	assert.Equal(t, iv.ID, scheduled[0].Metadata["interviewId"])
	assert.Equal(t, app.ID, scheduled[0].Metadata["applicationId"])
}

func TestSchedule_TypeDefaults(t *testing.T) {
	tests := []struct {
		typ      models.InterviewType
		duration int
		location string
		status   models.ApplicationStatus
	}{
		{models.InterviewTypeInterview, 30, "Phone or video call", models.StatusInterviewScheduled},
		{models.InterviewTypeMeetGreet, 60, "Shelter", models.StatusMeetGreetScheduled},
		{models.InterviewTypeHomeVisit, 90, "Adopter's home", models.StatusHomeVisitScheduled},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			f := newFixture(t)
			app := f.underReview(t, adopter, "pet-1")
			iv := f.schedule(t, app.ID, tt.typ, "11:00", 0)
			assert.Equal(t, tt.duration, iv.DurationMinutes)
			assert.Equal(t, tt.location, iv.Location)
			assert.Equal(t, tt.status, f.application(t, app.ID).Status)
		})
	}
}

func TestSchedule_ConflictLeavesApplicationUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.underReview(t, adopter, "pet-1")
	second := f.underReview(t, otherAdopter, "pet-1")

	booked := f.schedule(t, first.ID, models.InterviewTypeMeetGreet, "10:00", 45)

	_, err := f.svc.Schedule(ctx, shelter, ScheduleRequest{
		ApplicationID:   second.ID,
		Type:            models.InterviewTypeInterview,
		Date:            testDate,
		Time:            "10:30",
		DurationMinutes: 30,
	})
	assertCode(t, err, errors.ErrCodeSlotConflict)

	stdErr, _ := errors.AsStandard(err)
	conflicts, ok := stdErr.Metadata["conflicts"].([]availability.Conflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, availability.Conflict{
		InterviewID:     booked.ID,
		Type:            models.InterviewTypeMeetGreet,
		Time:            "10:00",
		DurationMinutes: 45,
		EndTime:         "10:45",
	}, conflicts[0])

	assert.Equal(t, models.StatusUnderReview, f.application(t, second.ID).Status)
	assert.Empty(t, f.notifications(t, otherAdopter.UserID, models.NotificationInterviewScheduled))

	// back-to-back is fine
	f.schedule(t, second.ID, models.InterviewTypeInterview, "10:45", 30)
}

func TestSchedule_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reviewed := f.underReview(t, adopter, "pet-1")
	submitted := f.submitted(t, adopter, "pet-2")

	tests := []struct {
		name   string
		caller models.Caller
		req    ScheduleRequest
		code   errors.ErrorCode
	}{
		{
			name:   "other shelter",
			caller: otherShelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10:00"},
			code:   errors.ErrCodeForbidden,
		},
		{
			name:   "adopter",
			caller: adopter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10:00"},
			code:   errors.ErrCodeForbidden,
		},
		{
			name:   "review not started",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: submitted.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10:00"},
			code:   errors.ErrCodeInvalidTransition,
		},
		{
			name:   "unknown application",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: "missing", Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10:00"},
			code:   errors.ErrCodeNotFound,
		},
		{
			name:   "unknown type",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: "video_game", Date: testDate, Time: "10:00"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "bad date",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: "20/01/2024", Time: "10:00"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "bad time",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10am"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "before opening",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "08:30"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "after last slot",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "20:00"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "earlier today",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: "2024-01-19", Time: "09:30"},
			code:   errors.ErrCodeValidationFailed,
		},
		{
			name:   "negative duration",
			caller: shelter,
			req:    ScheduleRequest{ApplicationID: reviewed.ID, Type: models.InterviewTypeMeetGreet, Date: testDate, Time: "10:00", DurationMinutes: -5},
			code:   errors.ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Schedule(ctx, tt.caller, tt.req)
			assertCode(t, err, tt.code)
		})
	}

	assert.Equal(t, models.StatusUnderReview, f.application(t, reviewed.ID).Status)
	assert.Equal(t, models.StatusSubmitted, f.application(t, submitted.ID).Status)
}

func TestSchedule_LaterTodayAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")

	iv, err := f.svc.Schedule(ctx, shelter, ScheduleRequest{
		ApplicationID: app.ID,
		Type:          models.InterviewTypeInterview,
		Date:          "2024-01-19",
		Time:          "10:30",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-19", iv.ScheduledDate)
}

func TestSchedule_ConcurrentBookingsOfOneSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 12
	apps := make([]*models.Application, n)
	for i := range apps {
		caller := models.Caller{UserID: fmt.Sprintf("adopter-c%d", i), Role: models.RoleAdopter}
		apps[i] = f.underReview(t, caller, "pet-1")
	}

	var succeeded, conflicted int32
	g, gctx := errgroup.WithContext(ctx)
	for i := range apps {
		app := apps[i]
		g.Go(func() error {
			_, err := f.svc.Schedule(gctx, shelter, ScheduleRequest{
				ApplicationID: app.ID,
				Type:          models.InterviewTypeMeetGreet,
				Date:          testDate,
				Time:          "15:00",
			})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.HasCode(err, errors.ErrCodeSlotConflict):
				atomic.AddInt32(&conflicted, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(n-1), conflicted)

	active, err := f.store.ListActiveInterviews(ctx, "shelter-1", testDate)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// Random booking sequences never leave two overlapping active interviews on a shelter day.
func TestSchedule_RandomSequencesKeepCalendarConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rng := rand.New(rand.NewSource(20240120))

	apps := make([]*models.Application, 6)
	for i := range apps {
		caller := models.Caller{UserID: fmt.Sprintf("adopter-r%d", i), Role: models.RoleAdopter}
		apps[i] = f.underReview(t, caller, "pet-1")
	}

	dates := []string{"2024-01-20", "2024-01-21"}
	types := []models.InterviewType{models.InterviewTypeInterview, models.InterviewTypeMeetGreet, models.InterviewTypeHomeVisit}
	durations := []int{15, 30, 45, 60, 90, 120}
	var booked []string
	accepted := 0

	for step := 0; step < 300; step++ {
		date := dates[rng.Intn(len(dates))]
		clock := availability.FormatClock(9*60 + rng.Intn(43)*15)

		var err error
		switch roll := rng.Intn(10); {
		case roll == 0 && len(booked) > 0:
			_, err = f.svc.Cancel(ctx, shelter, booked[rng.Intn(len(booked))], "shuffle")
			if errors.HasCode(err, errors.ErrCodeInvalidTransition) {
				continue
			}
		case roll == 1 && len(booked) > 0:
			_, err = f.svc.Reschedule(ctx, shelter, booked[rng.Intn(len(booked))], date, clock, "")
			if errors.HasCode(err, errors.ErrCodeInvalidTransition) {
				continue
			}
		default:
			var iv *models.Interview
			iv, err = f.svc.Schedule(ctx, shelter, ScheduleRequest{
				ApplicationID:   apps[rng.Intn(len(apps))].ID,
				Type:            types[rng.Intn(len(types))],
				Date:            date,
				Time:            clock,
				DurationMinutes: durations[rng.Intn(len(durations))],
			})
			if err == nil {
				booked = append(booked, iv.ID)
			}
		}

		if err != nil {
			assertCode(t, err, errors.ErrCodeSlotConflict)
			continue
		}
		accepted++

		for _, d := range dates {
			active, err := f.store.ListActiveInterviews(ctx, "shelter-1", d)
			require.NoError(t, err)
			for i := range active {
				for j := i + 1; j < len(active); j++ {
					a, b := active[i], active[j]
					aStart, _ := availability.ParseClock(a.ScheduledTime)
					bStart, _ := availability.ParseClock(b.ScheduledTime)
					require.False(t,
						availability.Overlaps(aStart, aStart+a.EffectiveDuration(), bStart, bStart+b.EffectiveDuration()),
						"step %d: %s %s+%d overlaps %s %s+%d", step,
						a.ID, a.ScheduledTime, a.EffectiveDuration(), b.ID, b.ScheduledTime, b.EffectiveDuration())
				}
			}
		}
	}
	assert.Greater(t, accepted, 10)
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")
	other := f.underReview(t, otherAdopter, "pet-1")

	iv := f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "10:00", 60)
	f.schedule(t, other.ID, models.InterviewTypeMeetGreet, "12:00", 60)

	// overlapping itself is fine
	moved, err := f.svc.Reschedule(ctx, shelter, iv.ID, testDate, "10:30", "Running late")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewRescheduled, moved.Status)
	assert.Equal(t, "10:30", moved.ScheduledTime)
	assert.Equal(t, "Running late", moved.ShelterNotes)

	_, err = f.svc.Reschedule(ctx, shelter, iv.ID, testDate, "11:30", "")
	assertCode(t, err, errors.ErrCodeSlotConflict)

	_, err = f.svc.Reschedule(ctx, otherShelter, iv.ID, "2024-01-22", "10:00", "")
	assertCode(t, err, errors.ErrCodeForbidden)

	moved, err = f.svc.Reschedule(ctx, shelter, iv.ID, "2024-01-22", "11:30", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-22", moved.ScheduledDate)

	// the old slot is free
	f.schedule(t, other.ID, models.InterviewTypeInterview, "10:00", 60)

	notes := f.notifications(t, adopter.UserID, models.NotificationInterviewScheduled)
	assert.Len(t, notes, 3)
	assert.Contains(t, titles(notes), "Meet & Greet rescheduled")
	assert.Equal(t, models.StatusMeetGreetScheduled, f.application(t, app.ID).Status)
}

func TestReschedule_AfterDeclineReentersScheduledState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")
	iv := f.schedule(t, app.ID, models.InterviewTypeHomeVisit, "10:00", 0)

	_, err := f.svc.Respond(ctx, adopter, iv.ID, false, "prefer evening")
	require.NoError(t, err)
	require.Equal(t, models.StatusUnderReview, f.application(t, app.ID).Status)

	moved, err := f.svc.Reschedule(ctx, shelter, iv.ID, testDate, "17:30", "")
	require.NoError(t, err)
	assert.Nil(t, moved.AdopterResponse)
	assert.Nil(t, moved.RespondedAt)
	assert.Empty(t, moved.AdopterResponseNotes)
	assert.Equal(t, models.StatusHomeVisitScheduled, f.application(t, app.ID).Status)

	// the adopter can answer again
	_, err = f.svc.Respond(ctx, adopter, iv.ID, true, "")
	require.NoError(t, err)
}

func TestCancelAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")
	first := f.schedule(t, app.ID, models.InterviewTypeInterview, "10:00", 30)
	second := f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "14:00", 60)

	_, err := f.svc.Cancel(ctx, otherShelter, first.ID, "")
	assertCode(t, err, errors.ErrCodeForbidden)

	cancelled, err := f.svc.Cancel(ctx, shelter, first.ID, "Staff unavailable")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewCancelled, cancelled.Status)
	assert.Equal(t, "Staff unavailable", cancelled.CancelReason)
	// cancelling does not move the application
	assert.Equal(t, models.StatusMeetGreetScheduled, f.application(t, app.ID).Status)
	assert.Contains(t, messages(f.notifications(t, adopter.UserID, models.NotificationGeneral)),
		"Your Phone/Video Interview on 2024-01-20 at 10:00 was cancelled. Staff unavailable")

	_, err = f.svc.Cancel(ctx, shelter, first.ID, "")
	assertCode(t, err, errors.ErrCodeInvalidTransition)
	_, err = f.svc.Reschedule(ctx, shelter, first.ID, testDate, "11:00", "")
	assertCode(t, err, errors.ErrCodeInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, shelter, second.ID, models.InterviewRescheduled, "")
	assertCode(t, err, errors.ErrCodeValidationFailed)

	confirmed, err := f.svc.UpdateStatus(ctx, shelter, second.ID, models.InterviewConfirmed, "Bring ID")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewConfirmed, confirmed.Status)
	assert.Equal(t, "Bring ID", confirmed.ShelterNotes)

	completed, err := f.svc.UpdateStatus(ctx, shelter, second.ID, models.InterviewCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, models.InterviewCompleted, completed.Status)
	assert.Equal(t, "Bring ID", completed.ShelterNotes)

	_, err = f.svc.UpdateStatus(ctx, shelter, second.ID, models.InterviewConfirmed, "")
	assertCode(t, err, errors.ErrCodeInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, shelter, "missing", models.InterviewConfirmed, "")
	assertCode(t, err, errors.ErrCodeNotFound)

	interviews, err := f.svc.ListInterviews(ctx, adopter, app.ID)
	require.NoError(t, err)
	assert.Len(t, interviews, 2)
	_, err = f.svc.ListInterviews(ctx, otherAdopter, app.ID)
	assertCode(t, err, errors.ErrCodeForbidden)
}

func TestGetAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	app := f.underReview(t, adopter, "pet-1")

	empty, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 60)
	require.NoError(t, err)
	assert.Equal(t, 22, empty.TotalSlots)
	assert.Equal(t, 22, empty.AvailableSlots)

	f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "10:00", 45)

	first, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 30)
	require.NoError(t, err)
	second, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 20, first.AvailableSlots)

	defaulted, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultInterviewDuration, defaulted.DurationMinutes)

	_, err = f.svc.GetAvailability(ctx, "shelter-1", "tomorrow", 30)
	assertCode(t, err, errors.ErrCodeValidationFailed)
	_, err = f.svc.GetAvailability(ctx, "", testDate, 30)
	assertCode(t, err, errors.ErrCodeValidationFailed)
	_, err = f.svc.GetAvailability(ctx, "shelter-1", testDate, 24*60)
	assertCode(t, err, errors.ErrCodeValidationFailed)
}

func setupCachedFixture(t *testing.T) (*fixture, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t, func(o *Options) {
		o.Cache = cache.NewAvailabilityCache(client, time.Minute)
	})
	return f, mr
}

func TestGetAvailability_CachedUntilBookingCommits(t *testing.T) {
	ctx := context.Background()
	f, _ := setupCachedFixture(t)
	app := f.underReview(t, adopter, "pet-1")

	before, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 60)
	require.NoError(t, err)
	assert.Equal(t, 22, before.AvailableSlots)

	// a write that bypasses the service is invisible until the entry is invalidated
	require.NoError(t, f.store.InsertInterview(ctx, &models.Interview{
		ID: "iv-direct", ApplicationID: app.ID, ShelterID: "shelter-1", AdopterID: adopter.UserID,
		Type: models.InterviewTypeInterview, Status: models.InterviewScheduled,
		ScheduledDate: testDate, ScheduledTime: "17:00", DurationMinutes: 30,
	}))
	cached, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 60)
	require.NoError(t, err)
	assert.Equal(t, before, cached)

	f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "10:00", 60)

	after, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 60)
	require.NoError(t, err)
	// 09:30, 10:00, 10:30 around the booking; 16:30, 17:00 around the direct insert
	assert.Equal(t, 17, after.AvailableSlots)
}

func TestGetAvailability_TodayIsNotCached(t *testing.T) {
	ctx := context.Background()
	f, mr := setupCachedFixture(t)
	app := f.underReview(t, adopter, "pet-1")

	today, err := f.svc.GetAvailability(ctx, "shelter-1", "2024-01-19", 60)
	require.NoError(t, err)
	// 10:30 through 19:30
	assert.Equal(t, 19, today.TotalSlots)
	assert.Empty(t, mr.Keys())

	require.NoError(t, f.store.InsertInterview(ctx, &models.Interview{
		ID: "iv-direct", ApplicationID: app.ID, ShelterID: "shelter-1", AdopterID: adopter.UserID,
		Type: models.InterviewTypeInterview, Status: models.InterviewScheduled,
		ScheduledDate: "2024-01-19", ScheduledTime: "15:00", DurationMinutes: 30,
	}))
	again, err := f.svc.GetAvailability(ctx, "shelter-1", "2024-01-19", 60)
	require.NoError(t, err)
	assert.Equal(t, 17, again.AvailableSlots)
}

func TestGetAvailability_CacheOutageFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	f, mr := setupCachedFixture(t)
	mr.Close()

	result, err := f.svc.GetAvailability(ctx, "shelter-1", testDate, 60)
	require.NoError(t, err)
	assert.Equal(t, 22, result.AvailableSlots)

	app := f.underReview(t, adopter, "pet-1")
	f.schedule(t, app.ID, models.InterviewTypeMeetGreet, "10:00", 60)
}

func TestPlanBooking(t *testing.T) {
	app := &models.Application{ID: "app-1", Status: models.StatusUnderReview, AdopterID: "adopter-1"}
	iv := &models.Interview{ID: "iv-1", ApplicationID: "app-1", AdopterID: "adopter-1", Type: models.InterviewTypeHomeVisit,
		ScheduledDate: testDate, ScheduledTime: "10:00", DurationMinutes: 90, Location: "Adopter's home"}

	eff := PlanBooking(app, iv, false)
	assert.Equal(t, "app-1", eff.ApplicationID)
	assert.Equal(t, models.StatusHomeVisitScheduled, eff.ApplicationStatus)
	require.Len(t, eff.Notifications, 1)
	assert.Equal(t, "adopter-1", eff.Notifications[0].RecipientID)
	assert.Equal(t, models.NotificationInterviewScheduled, eff.Notifications[0].Type)

	app.Status = models.StatusMeetGreetScheduled
	eff = PlanBooking(app, iv, true)
	assert.Empty(t, eff.ApplicationStatus)
	assert.Equal(t, "Home Visit rescheduled", eff.Notifications[0].Title)

	app.Status = models.StatusUnderReview
	eff = PlanBooking(app, iv, true)
	assert.Equal(t, models.StatusHomeVisitScheduled, eff.ApplicationStatus)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adoption-workflow/internal/adoption"
	"adoption-workflow/internal/availability"
	"adoption-workflow/internal/common/auth"
	"adoption-workflow/internal/common/logger"
	"adoption-workflow/internal/models"
	"adoption-workflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adopter = models.Caller{UserID: "adopter-1", Role: models.RoleAdopter}
	other   = models.Caller{UserID: "adopter-2", Role: models.RoleAdopter}
	shelter = models.Caller{UserID: "shelter-user-1", Role: models.RoleShelter, ShelterID: "shelter-1"}
)

type testServer struct {
	router http.Handler
	store  *store.Memory
}

func setupServer(t *testing.T, configure ...func(*Deps)) *testServer {
	t.Helper()
	mem := store.NewMemory()
	mem.PutPet(models.Pet{ID: "pet-1", Name: "Biscuit", ShelterID: "shelter-1", ShelterUserID: "shelter-user-1", Status: models.PetStatusAvailable})

	calc, err := availability.NewCalculator(availability.Options{
		Now: func() time.Time { return time.Date(2024, 1, 19, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	svc, err := adoption.NewService(adoption.Options{
		Store:      mem,
		Catalog:    mem,
		Calculator: calc,
		Logger:     logger.NewTestLogger(t),
	})
	require.NoError(t, err)

	deps := Deps{Service: svc, Auth: auth.HeaderAuthenticator{}, Logger: logger.NewTestLogger(t)}
	for _, fn := range configure {
		fn(&deps)
	}
	return &testServer{router: NewRouter(deps), store: mem}
}

func (s *testServer) do(t *testing.T, method, path string, caller *models.Caller, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(auth.HeaderUserID, caller.UserID)
		req.Header.Set(auth.HeaderUserRole, string(caller.Role))
		if caller.ShelterID != "" {
			req.Header.Set(auth.HeaderShelterID, caller.ShelterID)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func slotAt(t *testing.T, a availability.Availability, clock string) availability.Slot {
	t.Helper()
	for _, slot := range a.Slots {
		if slot.Time == clock {
			return slot
		}
	}
	t.Fatalf("no slot at %s", clock)
	return availability.Slot{}
}

type errorResponse struct {
	Error struct {
		Code     string                 `json:"code"`
		Message  string                 `json:"message"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"error"`
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[errorResponse](t, rec)
	assert.Equal(t, code, body.Error.Code)
	return body
}

func applicationBody() map[string]interface{} {
	return map[string]interface{}{
		"petId": "pet-1",
		"details": map[string]interface{}{
			"fullName":       "Dana Adopter",
			"email":          "dana@example.com",
			"phone":          "+1 555-010-2000",
			"address":        "12 Elm Street",
			"housingType":    "house",
			"householdSize":  2,
			"petExperience":  "Grew up with dogs",
			"adoptionReason": "Companionship",
		},
	}
}

func (s *testServer) scheduledApplication(t *testing.T) (models.Application, models.Interview) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/applications/submit", &adopter, applicationBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	app := decode[models.Application](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+app.ID+"/review", &shelter, map[string]string{"status": "under_review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+app.ID+"/interviews", &shelter, map[string]interface{}{
		"type": "meet_greet",
		"date": "2024-01-20",
		"time": "10:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	iv := decode[models.Interview](t, rec)
	return app, iv
}

func TestHealthAndReady(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "adoption_http_request_duration_seconds")
}

func TestReadyFailure(t *testing.T) {
	s := setupServer(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return stderrors.New("db down") }
	})

	rec := s.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthentication(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/applications", nil, nil)
	assertError(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")

	rec = s.do(t, http.MethodGet, "/api/v1/applications", &models.Caller{UserID: "s", Role: models.RoleShelter}, nil)
	assertError(t, rec, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestApplicationLifecycle(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/applications", &adopter, map[string]interface{}{
		"petId":   "pet-1",
		"details": map[string]interface{}{"fullName": "Dana"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	draft := decode[models.Application](t, rec)
	assert.Equal(t, models.StatusDraft, draft.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+draft.ID+"/submit", &adopter, nil)
	body := assertError(t, rec, http.StatusUnprocessableEntity, "VALIDATION_FAILED")
	assert.NotEmpty(t, body.Error.Message)

	rec = s.do(t, http.MethodPatch, "/api/v1/applications/"+draft.ID, &adopter, applicationBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+draft.ID+"/submit", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusSubmitted, decode[models.Application](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/applications/submit", &adopter, applicationBody())
	assertError(t, rec, http.StatusConflict, "DUPLICATE_APPLICATION")

	rec = s.do(t, http.MethodGet, "/api/v1/applications/"+draft.ID, &other, nil)
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = s.do(t, http.MethodGet, "/api/v1/applications?status=submitted", &shelter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[applicationList](t, rec)
	require.Len(t, list.Applications, 1)
	assert.Equal(t, draft.ID, list.Applications[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/applications", &other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"applications":[]}`+"\n", rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+draft.ID+"/withdraw", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusWithdrawn, decode[models.Application](t, rec).Status)
}

func TestRequestRejections(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		caller models.Caller
		body   interface{}
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/applications/submit", adopter, "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", http.MethodPost, "/api/v1/applications/submit", adopter, `{"pet":"pet-1"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown status filter", http.MethodGet, "/api/v1/applications?status=lost", adopter, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad limit", http.MethodGet, "/api/v1/notifications?limit=ten", adopter, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown notification type", http.MethodGet, "/api/v1/notifications?type=sms", adopter, nil, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"missing application", http.MethodGet, "/api/v1/applications/nope", adopter, nil, http.StatusNotFound, "NOT_FOUND"},
		{"respond without answer", http.MethodPost, "/api/v1/interviews/iv-1/respond", adopter, map[string]string{"notes": "hi"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad duration", http.MethodGet, "/api/v1/shelters/shelter-1/availability?date=2024-01-20&duration=x", adopter, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown application", http.MethodPost, "/api/v1/applications/any/interviews", shelter, map[string]string{"type": "interview", "date": "2024-01-20", "time": "10:00"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown interview type", http.MethodPost, "/api/v1/applications/any/interviews", shelter, map[string]string{"type": "tour", "date": "2024-01-20", "time": "10:00"}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.caller
			rec := s.do(t, tt.method, tt.path, &c, tt.body)
			assertError(t, rec, tt.status, tt.code)
		})
	}
}

func TestInterviewFlow(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/shelters/shelter-1/availability?date=2024-01-20", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	before := decode[availability.Availability](t, rec)
	assert.Equal(t, 22, before.TotalSlots)
	assert.Equal(t, 22, before.AvailableSlots)

	app, iv := s.scheduledApplication(t)
	assert.Equal(t, models.InterviewScheduled, iv.Status)
	assert.Equal(t, 60, iv.DurationMinutes)

	rec = s.do(t, http.MethodGet, "/api/v1/shelters/shelter-1/availability?date=2024-01-20&duration=60", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[availability.Availability](t, rec)
	assert.Equal(t, 19, after.AvailableSlots)
	assert.NotContains(t, rec.Body.String(), iv.ID)
	require.NotEmpty(t, slotAt(t, after, "10:00").Conflicts)
	assert.Empty(t, slotAt(t, after, "10:00").Conflicts[0].InterviewID)

	rec = s.do(t, http.MethodGet, "/api/v1/shelters/shelter-1/availability?date=2024-01-20&duration=60", &shelter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, iv.ID, slotAt(t, decode[availability.Availability](t, rec), "10:00").Conflicts[0].InterviewID)

	rec = s.do(t, http.MethodGet, "/api/v1/applications/"+app.ID, &adopter, nil)
	assert.Equal(t, models.StatusMeetGreetScheduled, decode[models.Application](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/applications/"+app.ID+"/interviews", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[interviewList](t, rec).Interviews, 1)

	rec = s.do(t, http.MethodPost, "/api/v1/interviews/"+iv.ID+"/respond", &adopter, map[string]interface{}{"accepted": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	responded := decode[models.Interview](t, rec)
	require.NotNil(t, responded.AdopterResponse)
	assert.True(t, *responded.AdopterResponse)

	rec = s.do(t, http.MethodPost, "/api/v1/interviews/"+iv.ID+"/respond", &adopter, map[string]interface{}{"accepted": false})
	assertError(t, rec, http.StatusConflict, "NOT_PENDING")

	rec = s.do(t, http.MethodPost, "/api/v1/interviews/"+iv.ID+"/reschedule", &shelter, map[string]string{"date": "2024-01-20", "time": "14:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "14:00", decode[models.Interview](t, rec).ScheduledTime)

	rec = s.do(t, http.MethodPost, "/api/v1/interviews/"+iv.ID+"/status", &shelter, map[string]string{"status": "completed", "shelterNotes": "Went well"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.InterviewCompleted, decode[models.Interview](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/interviews/"+iv.ID+"/cancel", &shelter, map[string]string{"reason": "late"})
	assertError(t, rec, http.StatusConflict, "INVALID_TRANSITION")
}

func TestSlotConflictResponse(t *testing.T) {
	s := setupServer(t)
	_, iv := s.scheduledApplication(t)

	s.store.PutPet(models.Pet{ID: "pet-2", Name: "Pepper", ShelterID: "shelter-1", ShelterUserID: "shelter-user-1", Status: models.PetStatusAvailable})
	body := applicationBody()
	body["petId"] = "pet-2"
	rec := s.do(t, http.MethodPost, "/api/v1/applications/submit", &other, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[models.Application](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+second.ID+"/review", &shelter, map[string]string{"status": "under_review"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/applications/"+second.ID+"/interviews", &shelter, map[string]string{
		"type": "interview",
		"date": "2024-01-20",
		"time": "10:30",
	})
	errBody := assertError(t, rec, http.StatusConflict, "SLOT_CONFLICT")
	conflicts, ok := errBody.Error.Metadata["conflicts"].([]interface{})
	require.True(t, ok, "conflicts metadata missing")
	require.Len(t, conflicts, 1)
	assert.Equal(t, iv.ID, conflicts[0].(map[string]interface{})["interviewId"])
}

func TestNotificationEndpoints(t *testing.T) {
	s := setupServer(t)
	s.scheduledApplication(t)

	rec := s.do(t, http.MethodGet, "/api/v1/notifications?type=interview_scheduled", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[notificationList](t, rec)
	require.Len(t, list.Notifications, 1)
	n := list.Notifications[0]
	assert.Equal(t, models.NotificationPending, n.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/read", &shelter, nil)
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = s.do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/read", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	read := decode[models.Notification](t, rec)
	assert.Equal(t, models.NotificationRead, read.Status)
	assert.NotNil(t, read.ReadAt)

	rec = s.do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/dismiss", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/notifications?status=pending&type=interview_scheduled", &adopter, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[notificationList](t, rec).Notifications)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"adoption-workflow/internal/models"
)

// Memory is an in-process Store for local runs and tests. Transactions are serialized by a single
// mutex and rolled back by restoring a snapshot.
type Memory struct {
	mu    sync.Mutex
	state *memState

	catalogMu sync.RWMutex
	pets      map[string]models.Pet
	contacts  map[string]models.Contact
}

func NewMemory() *Memory {
	return &Memory{
		state:    newMemState(),
		pets:     make(map[string]models.Pet),
		contacts: make(map[string]models.Contact),
	}
}

// PutPet seeds the catalog.
func (m *Memory) PutPet(pet models.Pet) {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.pets[pet.ID] = pet
}

// PutContact seeds the contact directory.
func (m *Memory) PutContact(userID string, c models.Contact) {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.contacts[userID] = c
}

func (m *Memory) GetPet(_ context.Context, petID string) (*models.Pet, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()
	pet, ok := m.pets[petID]
	if !ok {
		return nil, ErrNotFound
	}
	return &pet, nil
}

func (m *Memory) GetContact(_ context.Context, userID string) (*models.Contact, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()
	c, ok := m.contacts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// AuditLog returns a copy of the recorded audit entries.
func (m *Memory) AuditLog() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.state.audit...)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	err := fn(ctx, m.state)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) locked(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) InsertApplication(ctx context.Context, app *models.Application) error {
	return m.locked(func(s *memState) error { return s.InsertApplication(ctx, app) })
}

func (m *Memory) UpdateApplication(ctx context.Context, app *models.Application) error {
	return m.locked(func(s *memState) error { return s.UpdateApplication(ctx, app) })
}

func (m *Memory) GetApplication(ctx context.Context, id string) (out *models.Application, err error) {
	err = m.locked(func(s *memState) error { out, err = s.GetApplication(ctx, id); return err })
	return out, err
}

func (m *Memory) GetApplicationForUpdate(ctx context.Context, id string) (*models.Application, error) {
	return m.GetApplication(ctx, id)
}

func (m *Memory) ListApplications(ctx context.Context, filter models.ApplicationFilter) (out []models.Application, err error) {
	err = m.locked(func(s *memState) error { out, err = s.ListApplications(ctx, filter); return err })
	return out, err
}

func (m *Memory) LockShelterDay(context.Context, string, string) error { return nil }

func (m *Memory) InsertInterview(ctx context.Context, iv *models.Interview) error {
	return m.locked(func(s *memState) error { return s.InsertInterview(ctx, iv) })
}

func (m *Memory) UpdateInterview(ctx context.Context, iv *models.Interview) error {
	return m.locked(func(s *memState) error { return s.UpdateInterview(ctx, iv) })
}

func (m *Memory) GetInterview(ctx context.Context, id string) (out *models.Interview, err error) {
	err = m.locked(func(s *memState) error { out, err = s.GetInterview(ctx, id); return err })
	return out, err
}

func (m *Memory) GetInterviewForUpdate(ctx context.Context, id string) (*models.Interview, error) {
	return m.GetInterview(ctx, id)
}

func (m *Memory) ListInterviewsByApplication(ctx context.Context, applicationID string) (out []models.Interview, err error) {
	err = m.locked(func(s *memState) error { out, err = s.ListInterviewsByApplication(ctx, applicationID); return err })
	return out, err
}

func (m *Memory) ListActiveInterviews(ctx context.Context, shelterID, date string) (out []models.Interview, err error) {
	err = m.locked(func(s *memState) error { out, err = s.ListActiveInterviews(ctx, shelterID, date); return err })
	return out, err
}

func (m *Memory) ListReminderCandidates(ctx context.Context, window ReminderWindow, limit int) (out []models.Interview, err error) {
	err = m.locked(func(s *memState) error {
		out, err = s.ListReminderCandidates(ctx, window, limit)
		return err
	})
	return out, err
}

func (m *Memory) InsertNotification(ctx context.Context, n *models.Notification) error {
	return m.locked(func(s *memState) error { return s.InsertNotification(ctx, n) })
}

func (m *Memory) UpdateNotificationStatus(ctx context.Context, n *models.Notification) error {
	return m.locked(func(s *memState) error { return s.UpdateNotificationStatus(ctx, n) })
}

func (m *Memory) GetNotification(ctx context.Context, id string) (out *models.Notification, err error) {
	err = m.locked(func(s *memState) error { out, err = s.GetNotification(ctx, id); return err })
	return out, err
}

func (m *Memory) ListNotifications(ctx context.Context, recipientID string, filter models.NotificationFilter) (out []models.Notification, err error) {
	err = m.locked(func(s *memState) error { out, err = s.ListNotifications(ctx, recipientID, filter); return err })
	return out, err
}

func (m *Memory) ClaimUndelivered(ctx context.Context, now time.Time, lease time.Duration, limit int) (out []models.Notification, err error) {
	err = m.locked(func(s *memState) error { out, err = s.ClaimUndelivered(ctx, now, lease, limit); return err })
	return out, err
}

func (m *Memory) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return m.locked(func(s *memState) error { return s.MarkDelivered(ctx, id, at) })
}

func (m *Memory) RetryDeliveryAt(ctx context.Context, id string, at time.Time) error {
	return m.locked(func(s *memState) error { return s.RetryDeliveryAt(ctx, id, at) })
}

func (m *Memory) AbandonDelivery(ctx context.Context, id string, at time.Time) error {
	return m.locked(func(s *memState) error { return s.AbandonDelivery(ctx, id, at) })
}

// Outbox returns the notifications still waiting for delivery, oldest first, whether or not
// they are due.
func (m *Memory) Outbox() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sortedNotifications(pendingDelivery, false)
}

func (m *Memory) AppendAudit(ctx context.Context, entry AuditEntry) error {
	return m.locked(func(s *memState) error { return s.AppendAudit(ctx, entry) })
}

// memState holds the tables. Its methods assume the caller holds Memory.mu.
type memState struct {
	applications  map[string]models.Application
	interviews    map[string]models.Interview
	notifications map[string]models.Notification
	audit         []AuditEntry
}

func newMemState() *memState {
	return &memState{
		applications:  make(map[string]models.Application),
		interviews:    make(map[string]models.Interview),
		notifications: make(map[string]models.Notification),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.applications {
		c.applications[k] = v
	}
	for k, v := range s.interviews {
		c.interviews[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = v
	}
	c.audit = append([]AuditEntry(nil), s.audit...)
	return c
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func blocksPair(status models.ApplicationStatus) bool {
	return !status.IsTerminal()
}

func (s *memState) InsertApplication(_ context.Context, app *models.Application) error {
	if _, exists := s.applications[app.ID]; exists {
		return ErrDuplicateActive
	}
	if blocksPair(app.Status) {
		for _, other := range s.applications {
			if other.PetID == app.PetID && other.AdopterID == app.AdopterID && blocksPair(other.Status) {
				return ErrDuplicateActive
			}
		}
	}
	stored := *app
	stored.Details = copyMap(app.Details)
	s.applications[app.ID] = stored
	return nil
}

func (s *memState) UpdateApplication(_ context.Context, app *models.Application) error {
	if _, ok := s.applications[app.ID]; !ok {
		return ErrNotFound
	}
	stored := *app
	stored.Details = copyMap(app.Details)
	s.applications[app.ID] = stored
	return nil
}

func (s *memState) GetApplication(_ context.Context, id string) (*models.Application, error) {
	app, ok := s.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	app.Details = copyMap(app.Details)
	return &app, nil
}

func (s *memState) GetApplicationForUpdate(ctx context.Context, id string) (*models.Application, error) {
	return s.GetApplication(ctx, id)
}

func (s *memState) ListApplications(_ context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	out := []models.Application{}
	for _, app := range s.applications {
		if filter.AdopterID != "" && app.AdopterID != filter.AdopterID {
			continue
		}
		if filter.ShelterID != "" && app.ShelterID != filter.ShelterID {
			continue
		}
		if filter.PetID != "" && app.PetID != filter.PetID {
			continue
		}
		if filter.Status != "" && app.Status != filter.Status {
			continue
		}
		app.Details = copyMap(app.Details)
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memState) LockShelterDay(context.Context, string, string) error { return nil }

func (s *memState) InsertInterview(_ context.Context, iv *models.Interview) error {
	if _, ok := s.applications[iv.ApplicationID]; !ok {
		return ErrNotFound
	}
	s.interviews[iv.ID] = *iv
	return nil
}

func (s *memState) UpdateInterview(_ context.Context, iv *models.Interview) error {
	if _, ok := s.interviews[iv.ID]; !ok {
		return ErrNotFound
	}
	s.interviews[iv.ID] = *iv
	return nil
}

func (s *memState) GetInterview(_ context.Context, id string) (*models.Interview, error) {
	iv, ok := s.interviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &iv, nil
}

func (s *memState) GetInterviewForUpdate(ctx context.Context, id string) (*models.Interview, error) {
	return s.GetInterview(ctx, id)
}

func (s *memState) filterInterviews(keep func(models.Interview) bool) []models.Interview {
	out := []models.Interview{}
	for _, iv := range s.interviews {
		if keep(iv) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledDate != out[j].ScheduledDate {
			return out[i].ScheduledDate < out[j].ScheduledDate
		}
		if out[i].ScheduledTime != out[j].ScheduledTime {
			return out[i].ScheduledTime < out[j].ScheduledTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memState) ListInterviewsByApplication(_ context.Context, applicationID string) ([]models.Interview, error) {
	return s.filterInterviews(func(iv models.Interview) bool {
		return iv.ApplicationID == applicationID
	}), nil
}

func (s *memState) ListActiveInterviews(_ context.Context, shelterID, date string) ([]models.Interview, error) {
	return s.filterInterviews(func(iv models.Interview) bool {
		return iv.ShelterID == shelterID && iv.ScheduledDate == date && iv.Status.IsActive()
	}), nil
}

func (s *memState) ListReminderCandidates(_ context.Context, window ReminderWindow, limit int) ([]models.Interview, error) {
	from := window.FromDate + " " + window.FromTime
	to := window.ToDate + " " + window.ToTime
	out := s.filterInterviews(func(iv models.Interview) bool {
		start := iv.ScheduledDate + " " + iv.ScheduledTime
		return iv.Status.IsActive() && iv.ReminderSentAt == nil && start > from && start <= to
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memState) InsertNotification(_ context.Context, n *models.Notification) error {
	stored := *n
	stored.Metadata = copyMap(n.Metadata)
	s.notifications[n.ID] = stored
	return nil
}

func (s *memState) UpdateNotificationStatus(_ context.Context, n *models.Notification) error {
	stored, ok := s.notifications[n.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = n.Status
	stored.ReadAt = n.ReadAt
	s.notifications[n.ID] = stored
	return nil
}

func (s *memState) GetNotification(_ context.Context, id string) (*models.Notification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	n.Metadata = copyMap(n.Metadata)
	return &n, nil
}

func (s *memState) sortedNotifications(keep func(models.Notification) bool, newestFirst bool) []models.Notification {
	out := []models.Notification{}
	for _, n := range s.notifications {
		if keep(n) {
			n.Metadata = copyMap(n.Metadata)
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *memState) ListNotifications(_ context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, error) {
	out := s.sortedNotifications(func(n models.Notification) bool {
		return n.RecipientID == recipientID &&
			(filter.Status == "" || n.Status == filter.Status) &&
			(filter.Type == "" || n.Type == filter.Type)
	}, true)
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pendingDelivery(n models.Notification) bool {
	return n.DeliveredAt == nil && n.AbandonedAt == nil
}

func dueAt(n models.Notification) time.Time {
	if n.NextAttemptAt != nil {
		return *n.NextAttemptAt
	}
	return n.CreatedAt
}

func (s *memState) ClaimUndelivered(_ context.Context, now time.Time, lease time.Duration, limit int) ([]models.Notification, error) {
	out := s.sortedNotifications(func(n models.Notification) bool {
		return pendingDelivery(n) && !dueAt(n).After(now)
	}, false)
	sort.SliceStable(out, func(i, j int) bool {
		return dueAt(out[i]).Before(dueAt(out[j]))
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}

	leaseEnd := now.Add(lease)
	for i := range out {
		out[i].DeliveryAttempts++
		out[i].NextAttemptAt = &leaseEnd
		stored := s.notifications[out[i].ID]
		stored.DeliveryAttempts = out[i].DeliveryAttempts
		stored.NextAttemptAt = &leaseEnd
		s.notifications[out[i].ID] = stored
	}
	return out, nil
}

func (s *memState) updateOutbox(id string, fn func(n *models.Notification)) error {
	n, ok := s.notifications[id]
	if !ok || !pendingDelivery(n) {
		return ErrNotFound
	}
	fn(&n)
	s.notifications[id] = n
	return nil
}

func (s *memState) MarkDelivered(_ context.Context, id string, at time.Time) error {
	return s.updateOutbox(id, func(n *models.Notification) {
		n.DeliveredAt = &at
		n.NextAttemptAt = nil
	})
}

func (s *memState) RetryDeliveryAt(_ context.Context, id string, at time.Time) error {
	return s.updateOutbox(id, func(n *models.Notification) { n.NextAttemptAt = &at })
}

func (s *memState) AbandonDelivery(_ context.Context, id string, at time.Time) error {
	return s.updateOutbox(id, func(n *models.Notification) {
		n.AbandonedAt = &at
		n.NextAttemptAt = nil
	})
}

func (s *memState) AppendAudit(_ context.Context, entry AuditEntry) error {
	entry.Details = copyMap(entry.Details)
	s.audit = append(s.audit, entry)
	return nil
}

var (
	_ Store            = (*Memory)(nil)
	_ Store            = (*Postgres)(nil)
	_ Repository       = (*memState)(nil)
	_ PetCatalog       = (*Memory)(nil)
	_ ContactDirectory = (*Memory)(nil)
	_ PetCatalog       = (*PostgresCatalog)(nil)
	_ ContactDirectory = (*PostgresCatalog)(nil)
)

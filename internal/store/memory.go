package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicdesk/backend/internal/domain"
)

// Memory implements AppointmentStore, ScheduleStore and RotationStore in
// process memory. It backs tests and single-node development setups.
type Memory struct {
	mu       sync.RWMutex
	appts    map[uuid.UUID]domain.Appointment
	slots    map[string][]string
	rotation int64
}

func NewMemory() *Memory {
	return &Memory{
		appts: make(map[uuid.UUID]domain.Appointment),
		slots: make(map[string][]string),
	}
}

func (m *Memory) Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appts {
		if existing.Active() && existing.Date == appt.Date && existing.Time == appt.Time && existing.Resource == appt.Resource {
			return domain.Appointment{}, ErrConflict
		}
	}

	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if appt.Status == "" {
		appt.Status = domain.StatusConfirmed
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	m.appts[appt.ID] = appt
	return appt, nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	appt, ok := m.appts[id]
	if !ok {
		return domain.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (m *Memory) ListByDate(ctx context.Context, date string) ([]domain.Appointment, error) {
	return m.ListRange(ctx, date, date)
}

func (m *Memory) ListRange(ctx context.Context, dateFrom, dateTo string) ([]domain.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Appointment
	for _, appt := range m.appts {
		if appt.Date >= dateFrom && appt.Date <= dateTo {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (m *Memory) Reschedule(ctx context.Context, id uuid.UUID, date, hhmm string) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return domain.Appointment{}, ErrNotFound
	}
	for _, existing := range m.appts {
		if existing.ID != id && existing.Active() && existing.Date == date && existing.Time == hhmm && existing.Resource == appt.Resource {
			return domain.Appointment{}, ErrConflict
		}
	}
	appt.Date = date
	appt.Time = hhmm
	appt.UpdatedAt = time.Now().UTC()
	m.appts[id] = appt
	return appt, nil
}

func (m *Memory) Cancel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	appt.Status = domain.StatusCancelled
	appt.UpdatedAt = time.Now().UTC()
	m.appts[id] = appt
	return nil
}

func (m *Memory) SetEventRef(ctx context.Context, id uuid.UUID, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	appt.CalendarID = calendarID
	appt.EventID = eventID
	appt.UpdatedAt = time.Now().UTC()
	m.appts[id] = appt
	return nil
}

func (m *Memory) DaySlots(ctx context.Context, date string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	times, ok := m.slots[date]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), times...), true, nil
}

func (m *Memory) SetDaySlots(ctx context.Context, date string, times []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[date] = domain.NormalizeTimes(times)
	return nil
}

func (m *Memory) AdvanceRotation(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotation++
	return m.rotation, nil
}

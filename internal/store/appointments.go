package store

import (
	"context"

	"github.com/google/uuid"

	"clinicdesk/backend/internal/domain"
)

type AppointmentStore interface {
	Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListByDate(ctx context.Context, date string) ([]domain.Appointment, error)
	ListRange(ctx context.Context, dateFrom, dateTo string) ([]domain.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date, hhmm string) (domain.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	SetEventRef(ctx context.Context, id uuid.UUID, calendarID, eventID string) error
}

// ScheduleStore holds the per-date slot configuration behind the template.
// The bool reports whether the date has explicit configuration; without it
// the generated default pattern applies.
type ScheduleStore interface {
	DaySlots(ctx context.Context, date string) ([]string, bool, error)
	SetDaySlots(ctx context.Context, date string, times []string) error
}

// RotationStore persists the tie-break cursor for "either" assignment so the
// rotation survives process restarts.
type RotationStore interface {
	AdvanceRotation(ctx context.Context) (int64, error)
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// ResourceEither is the pseudo-resource meaning "whichever concrete resource
// is least loaded and free". It never has a calendar binding of its own.
const ResourceEither = "either"

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	Date         string    `bun:"date,notnull"`
	Time         string    `bun:"time,notnull"`
	Resource     string    `bun:"resource,notnull"`
	Service      string    `bun:"service,notnull"`
	Status       string    `bun:"status,notnull"`
	PatientName  string    `bun:"patient_name"`
	PatientPhone string    `bun:"patient_phone"`
	Notes        string    `bun:"notes"`
	CalendarID   string    `bun:"calendar_id"`
	EventID      string    `bun:"event_id"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// DurationMinutes resolves the appointment's service duration from the
// configured map, rounded up to the slot step; unknown services take a single
// step.
func (a *Appointment) DurationMinutes(durations map[string]int, stepMin int) int {
	return RoundUpToStep(durations[a.Service], stepMin)
}

// ResourcesOverlap reports whether two resource keys compete for the same
// slot: an exact match, or either side being the "either" pseudo-resource.
func ResourcesOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return a == ResourceEither || b == ResourceEither
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.Status == "" {
			a.Status = StatusConfirmed
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// DayTemplate is the stored per-date slot configuration. Dates without a row
// fall back to the generated default pattern.
type DayTemplate struct {
	bun.BaseModel `bun:"table:day_templates"`

	Date      string    `bun:"date,pk"`
	Times     []string  `bun:"times,array"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// RotationCursor is the persisted tie-break counter for "either" assignment.
// Single row, advanced atomically whenever a tie is broken.
type RotationCursor struct {
	bun.BaseModel `bun:"table:rotation_cursor"`

	ID    int64 `bun:"id,pk"`
	Value int64 `bun:"value,notnull"`
}

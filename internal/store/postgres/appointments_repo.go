package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"clinicdesk/backend/internal/domain"
	"clinicdesk/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

// Create inserts inside a transaction holding an advisory lock on the date,
// so the uniqueness check and the insert cannot interleave with another
// booking for the same day. The partial unique index
// appointments_slot_active on (date, time, resource) where status !=
// 'cancelled' is the last line of defense; its violation maps to ErrConflict.
func (r *AppointmentRepo) Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockDate(ctx, tx, appt.Date); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.Appointment{}, mapPgError(err)
	}
	return m, nil
}

func (r *AppointmentRepo) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepo) ListByDate(ctx context.Context, date string) ([]domain.Appointment, error) {
	return r.ListRange(ctx, date, date)
}

func (r *AppointmentRepo) ListRange(ctx context.Context, dateFrom, dateTo string) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("date >= ?", dateFrom).
		Where("date <= ?", dateTo).
		OrderExpr("date ASC, time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) Reschedule(ctx context.Context, id uuid.UUID, date, hhmm string) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockDate(ctx, tx, date); err != nil {
			return err
		}
		res, err := tx.NewUpdate().
			Model((*domain.Appointment)(nil)).
			Set("date = ?", date).
			Set("time = ?", hhmm).
			Set("updated_at = now()").
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrNotFound
		}
		return tx.NewSelect().Model(&out).Where("id = ?", id).Limit(1).Scan(ctx)
	})
	if err != nil {
		return domain.Appointment{}, mapPgError(err)
	}
	return out, nil
}

func (r *AppointmentRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", domain.StatusCancelled).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepo) SetEventRef(ctx context.Context, id uuid.UUID, calendarID, eventID string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("calendar_id = ?", calendarID).
		Set("event_id = ?", eventID).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AppointmentRepo) DaySlots(ctx context.Context, date string) ([]string, bool, error) {
	var row domain.DayTemplate
	err := r.db.NewSelect().
		Model(&row).
		Where("date = ?", date).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row.Times, true, nil
}

func (r *AppointmentRepo) SetDaySlots(ctx context.Context, date string, times []string) error {
	row := domain.DayTemplate{Date: date, Times: domain.NormalizeTimes(times)}
	_, err := r.db.NewInsert().
		Model(&row).
		On("CONFLICT (date) DO UPDATE").
		Set("times = EXCLUDED.times").
		Set("updated_at = now()").
		Exec(ctx)
	return err
}

func (r *AppointmentRepo) AdvanceRotation(ctx context.Context) (int64, error) {
	var value int64
	err := r.db.NewRaw(
		`INSERT INTO rotation_cursor (id, value) VALUES (1, 1)
		 ON CONFLICT (id) DO UPDATE SET value = rotation_cursor.value + 1
		 RETURNING value`,
	).Scan(ctx, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func lockDate(ctx context.Context, tx bun.Tx, date string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", date).Exec(ctx)
	return err
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return err
}

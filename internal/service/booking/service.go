// Package booking orchestrates a booking attempt: a fresh re-validation
// immediately before commit, resource assignment for "either" requests,
// upstream event mutation, and the per-slot lock serializing the
// check-then-book critical section.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicdesk/backend/internal/domain"
	"clinicdesk/backend/internal/google"
	"clinicdesk/backend/internal/lock"
	"clinicdesk/backend/internal/service/availability"
	"clinicdesk/backend/internal/store"
)

const originTag = "clinicdesk"

type AvailabilityEngine interface {
	IsSlotAvailable(ctx context.Context, date, hhmm, resource, service string, fresh bool) (bool, availability.Meta, error)
}

type CalendarAPI interface {
	CreateEvent(ctx context.Context, calendarID string, ev google.Event) (google.Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, patch google.EventPatch) (google.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

type Config struct {
	Location    *time.Location
	TimeZone    string
	StepMinutes int
	Durations   map[string]int
	Bindings    map[string]string
	FailPolicy  string
	LockWait    time.Duration
	LockHold    time.Duration
	ClinicName  string
	ClinicAddr  string
}

func (c Config) step() int {
	if c.StepMinutes <= 0 {
		return 30
	}
	return c.StepMinutes
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) lockWait() time.Duration {
	if c.LockWait <= 0 {
		return 10 * time.Second
	}
	return c.LockWait
}

func (c Config) lockHold() time.Duration {
	if c.LockHold <= 0 {
		return 30 * time.Second
	}
	return c.LockHold
}

func (c Config) concreteResources() []string {
	return availability.Config{Bindings: c.Bindings}.ConcreteResources()
}

type Service struct {
	avail    AvailabilityEngine
	cal      CalendarAPI
	appts    store.AppointmentStore
	rotation store.RotationStore
	locker   lock.SlotLocker
	cfg      Config
	log      *slog.Logger
}

func NewService(cfg Config, avail AvailabilityEngine, cal CalendarAPI, appts store.AppointmentStore, rotation store.RotationStore, locker lock.SlotLocker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		avail:    avail,
		cal:      cal,
		appts:    appts,
		rotation: rotation,
		locker:   locker,
		cfg:      cfg,
		log:      log.With(slog.String("component", "booking")),
	}
}

type SlotCheck struct {
	Resource    string
	DurationMin int
}

// EnsureSlotAvailable is the cache-bypassing re-check run immediately before
// commit. For the "either" resource it also resolves the concrete assignment.
func (s *Service) EnsureSlotAvailable(ctx context.Context, date, hhmm, resource, service string) (SlotCheck, error) {
	if resource == "" || resource == domain.ResourceEither {
		a, err := s.AssignResource(ctx, date, hhmm, service)
		if err != nil {
			return SlotCheck{}, err
		}
		return SlotCheck{Resource: a.Resource, DurationMin: s.durationMin(service)}, nil
	}

	ok, _, err := s.avail.IsSlotAvailable(ctx, date, hhmm, resource, service, true)
	if err != nil {
		return SlotCheck{}, err
	}
	if !ok {
		return SlotCheck{}, domain.Errorf(domain.CodeSlotUnavailable, "%s %s is not available for %s", date, hhmm, resource)
	}
	return SlotCheck{Resource: resource, DurationMin: s.durationMin(service)}, nil
}

type Assignment struct {
	Resource  string
	Loads     map[string]int
	Available []string
}

// AssignResource picks a concrete resource for an "either" request:
// least-loaded among the resources confirmed free, ties broken by the
// persisted rotation cursor. A check that reports the upstream unreachable
// propagates immediately; partial information must not mask an outage.
func (s *Service) AssignResource(ctx context.Context, date, hhmm, service string) (Assignment, error) {
	resources := s.cfg.concreteResources()
	if len(resources) == 0 {
		return Assignment{}, domain.Errorf(domain.CodeCalendarNotConfigured, "no resource calendar bindings")
	}

	var available []string
	for _, r := range resources {
		ok, _, err := s.avail.IsSlotAvailable(ctx, date, hhmm, r, service, true)
		if err != nil {
			return Assignment{}, err
		}
		if ok {
			available = append(available, r)
		}
	}
	if len(available) == 0 {
		return Assignment{}, domain.Errorf(domain.CodeSlotUnavailable, "%s %s is not available", date, hhmm)
	}

	appts, err := s.appts.ListByDate(ctx, date)
	if err != nil {
		return Assignment{}, err
	}
	loads := make(map[string]int, len(resources))
	for _, r := range resources {
		loads[r] = 0
	}
	for _, a := range appts {
		if a.Active() {
			if _, ok := loads[a.Resource]; ok {
				loads[a.Resource]++
			}
		}
	}

	min := loads[available[0]]
	for _, r := range available[1:] {
		if loads[r] < min {
			min = loads[r]
		}
	}
	tied := make([]string, 0, len(available))
	for _, r := range available {
		if loads[r] == min {
			tied = append(tied, r)
		}
	}

	chosen := tied[0]
	if len(tied) > 1 {
		cursor, err := s.rotation.AdvanceRotation(ctx)
		if err != nil {
			s.log.Warn("rotation cursor unavailable; assignment falls back to first tied resource", slog.Any("err", err))
		} else {
			chosen = tied[int(cursor)%len(tied)]
		}
	}
	return Assignment{Resource: chosen, Loads: loads, Available: available}, nil
}

// WithSlotLock runs fn while holding the (date, time) lock. The lock key
// deliberately ignores the resource: two resources booking the same
// wall-clock slot must still serialize against the "either" assignment
// reading both loads. fn's context is bounded by the hold budget so a slow
// upstream cannot keep the lock past its staleness window.
func (s *Service) WithSlotLock(ctx context.Context, date, hhmm string, fn func(ctx context.Context) error) error {
	release, err := s.locker.Acquire(ctx, lock.Key(date, hhmm), s.cfg.lockWait(), s.cfg.lockHold())
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return domain.Errorf(domain.CodeSlotLocked, "slot %s %s is being booked by another request", date, hhmm)
		}
		return domain.WrapError(domain.CodeSlotLockFailed, err, "acquire slot lock")
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.lockHold())
	defer cancel()
	return fn(ctx)
}

type BookInput struct {
	Date         string
	Time         string
	Resource     string
	Service      string
	PatientName  string
	PatientPhone string
	Notes        string
}

// Book is the serialized critical section: lock, fresh re-check (with
// assignment if needed), store commit, upstream event creation. With fail
// policy "block" a failed event creation unwinds the stored appointment; with
// "degrade" the local record stands and the event is reconciled later.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	date, hhmm, err := normalizeSlot(in.Date, in.Time)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.WithSlotLock(ctx, date, hhmm, func(ctx context.Context) error {
		chk, err := s.EnsureSlotAvailable(ctx, date, hhmm, in.Resource, in.Service)
		if err != nil {
			return err
		}

		appt, err := s.appts.Create(ctx, domain.Appointment{
			Date:         date,
			Time:         hhmm,
			Resource:     chk.Resource,
			Service:      in.Service,
			Status:       domain.StatusConfirmed,
			PatientName:  in.PatientName,
			PatientPhone: in.PatientPhone,
			Notes:        in.Notes,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.Errorf(domain.CodeSlotUnavailable, "%s %s was booked concurrently", date, hhmm)
			}
			return err
		}

		calendarID, eventID, err := s.CreateCalendarEvent(ctx, appt, chk.DurationMin)
		if err != nil {
			if s.cfg.FailPolicy == availability.PolicyBlock {
				if cerr := s.appts.Cancel(ctx, appt.ID); cerr != nil {
					s.log.Error("failed to unwind booking after event creation failure",
						slog.String("appointment_id", appt.ID.String()), slog.Any("err", cerr))
				}
				return err
			}
			s.log.Warn("calendar event creation failed; keeping local booking",
				slog.String("appointment_id", appt.ID.String()), slog.Any("err", err))
			out = appt
			return nil
		}

		if err := s.appts.SetEventRef(ctx, appt.ID, calendarID, eventID); err != nil {
			s.log.Warn("failed to persist event reference",
				slog.String("appointment_id", appt.ID.String()), slog.Any("err", err))
		}
		appt.CalendarID = calendarID
		appt.EventID = eventID
		out = appt
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment booked",
		slog.String("appointment_id", out.ID.String()),
		slog.String("date", out.Date),
		slog.String("time", out.Time),
		slog.String("resource", out.Resource),
		slog.String("service", out.Service),
	)
	return out, nil
}

// Reschedule moves an appointment to a new slot under the new slot's lock and
// patches the upstream event by its stored reference.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime string) (domain.Appointment, error) {
	date, hhmm, err := normalizeSlot(newDate, newTime)
	if err != nil {
		return domain.Appointment{}, err
	}

	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !appt.Active() {
		return domain.Appointment{}, domain.Errorf(domain.CodeValidation, "appointment is cancelled")
	}

	var out domain.Appointment
	err = s.WithSlotLock(ctx, date, hhmm, func(ctx context.Context) error {
		ok, _, err := s.avail.IsSlotAvailable(ctx, date, hhmm, appt.Resource, appt.Service, true)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Errorf(domain.CodeSlotUnavailable, "%s %s is not available for %s", date, hhmm, appt.Resource)
		}

		updated, err := s.appts.Reschedule(ctx, id, date, hhmm)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.Errorf(domain.CodeSlotUnavailable, "%s %s was booked concurrently", date, hhmm)
			}
			return err
		}

		if updated.EventID != "" {
			if err := s.PatchCalendarEvent(ctx, updated); err != nil {
				if s.cfg.FailPolicy == availability.PolicyBlock {
					if _, rerr := s.appts.Reschedule(ctx, id, appt.Date, appt.Time); rerr != nil {
						s.log.Error("failed to revert reschedule after event patch failure",
							slog.String("appointment_id", id.String()), slog.Any("err", rerr))
					}
					return err
				}
				s.log.Warn("calendar event patch failed; keeping local reschedule",
					slog.String("appointment_id", id.String()), slog.Any("err", err))
			}
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// CancelAppointment cancels the stored record and best-effort deletes the
// upstream event; an unreachable calendar never blocks a cancellation.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) error {
	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.appts.Cancel(ctx, id); err != nil {
		return err
	}
	if appt.EventID != "" {
		if err := s.CancelCalendarEvent(ctx, appt); err != nil {
			s.log.Warn("calendar event deletion failed after cancellation",
				slog.String("appointment_id", id.String()), slog.Any("err", err))
		}
	}
	return nil
}

// CreateCalendarEvent creates the upstream event for an appointment. The
// private extended properties carry enough metadata to reconcile the event
// back to the internal record later.
func (s *Service) CreateCalendarEvent(ctx context.Context, appt domain.Appointment, durationMin int) (string, string, error) {
	calendarID := s.cfg.Bindings[appt.Resource]
	if calendarID == "" {
		return "", "", domain.Errorf(domain.CodeCalendarNotConfigured, "no calendar bound to resource %q", appt.Resource)
	}
	start, end, err := s.slotInterval(appt.Date, appt.Time, durationMin)
	if err != nil {
		return "", "", err
	}

	summary := appt.Service
	if appt.PatientName != "" {
		summary = fmt.Sprintf("%s: %s", appt.Service, appt.PatientName)
	}
	description := appt.Notes
	if s.cfg.ClinicName != "" {
		description = strings.TrimSpace(s.cfg.ClinicName + "\n" + appt.Notes)
	}
	created, err := s.cal.CreateEvent(ctx, calendarID, google.Event{
		Summary:     summary,
		Description: description,
		Location:    s.cfg.ClinicAddr,
		Start:       s.eventTime(start),
		End:         s.eventTime(end),
		ExtendedProperties: &google.ExtendedProperties{
			Private: map[string]string{
				"origin":         originTag,
				"appointment_id": appt.ID.String(),
				"service":        appt.Service,
				"resource":       appt.Resource,
				"patient_name":   appt.PatientName,
				"patient_phone":  appt.PatientPhone,
			},
		},
	})
	if err != nil {
		return "", "", err
	}
	return calendarID, created.ID, nil
}

// PatchCalendarEvent moves the upstream event to the appointment's current
// slot using the stored (calendarID, eventID) reference.
func (s *Service) PatchCalendarEvent(ctx context.Context, appt domain.Appointment) error {
	if appt.CalendarID == "" || appt.EventID == "" {
		return domain.Errorf(domain.CodeValidation, "appointment has no event reference")
	}
	start, end, err := s.slotInterval(appt.Date, appt.Time, s.durationMin(appt.Service))
	if err != nil {
		return err
	}
	_, err = s.cal.PatchEvent(ctx, appt.CalendarID, appt.EventID, google.EventPatch{
		Start: s.eventTime(start),
		End:   s.eventTime(end),
	})
	return err
}

func (s *Service) CancelCalendarEvent(ctx context.Context, appt domain.Appointment) error {
	if appt.CalendarID == "" || appt.EventID == "" {
		return domain.Errorf(domain.CodeValidation, "appointment has no event reference")
	}
	return s.cal.DeleteEvent(ctx, appt.CalendarID, appt.EventID)
}

func (s *Service) durationMin(service string) int {
	return domain.RoundUpToStep(s.cfg.Durations[service], s.cfg.step())
}

func (s *Service) slotInterval(date, hhmm string, durationMin int) (time.Time, time.Time, error) {
	start, err := domain.SlotStart(date, hhmm, s.cfg.location())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(durationMin) * time.Minute), nil
}

func (s *Service) eventTime(t time.Time) *google.EventTime {
	return &google.EventTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: s.cfg.TimeZone,
	}
}

func normalizeSlot(date, hhmm string) (string, string, error) {
	if _, err := domain.ParseDate(date); err != nil {
		return "", "", err
	}
	mins, err := domain.ClockMinutes(hhmm)
	if err != nil {
		return "", "", err
	}
	return date, domain.ClockString(mins), nil
}

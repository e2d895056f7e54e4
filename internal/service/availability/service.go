// Package availability computes the set of bookable time slots per date by
// filtering the per-date slot template against either locally stored
// appointments or live free/busy data from the upstream calendar.
package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"clinicdesk/backend/internal/domain"
	"clinicdesk/backend/internal/google"
	"clinicdesk/backend/internal/store"
)

// Source values reported in Meta: which path actually answered the request.
const (
	SourceStore    = "store"
	SourceGoogle   = "google"
	SourceFallback = "fallback"
)

// Configured source modes and fail policies.
const (
	ModeStore  = "store"
	ModeGoogle = "google"

	PolicyBlock   = "block"
	PolicyDegrade = "degrade"
)

const maxRangeDays = 31

type CalendarAPI interface {
	FreeBusy(ctx context.Context, calendarIDs []string, timeMin, timeMax time.Time, bypass bool) (google.FreeBusyResult, error)
}

type Config struct {
	SourceMode  string
	FailPolicy  string
	Location    *time.Location
	StepMinutes int
	Durations   map[string]int
	Bindings    map[string]string
	OpenTime    string
	CloseTime   string
}

// ConcreteResources returns the configured resource keys in stable order.
func (c Config) ConcreteResources() []string {
	out := make([]string, 0, len(c.Bindings))
	for r := range c.Bindings {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
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

type Service struct {
	cfg   Config
	appts store.AppointmentStore
	sched store.ScheduleStore
	cal   CalendarAPI
	log   *slog.Logger
}

func NewService(cfg Config, appts store.AppointmentStore, sched store.ScheduleStore, cal CalendarAPI, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:   cfg,
		appts: appts,
		sched: sched,
		cal:   cal,
		log:   log.With(slog.String("component", "availability")),
	}
}

// Meta states which source answered the request and whether the answer is a
// degraded fallback. Every read path returns it so callers reason about one
// contract regardless of which internal path answered.
type Meta struct {
	Source   string `json:"source"`
	Degraded bool   `json:"degraded"`
}

type Query struct {
	Resource string
	Service  string
	DateFrom string
	Days     int
	Fresh    bool
}

type Result struct {
	Data map[string][]string `json:"data"`
	Meta Meta                `json:"meta"`
}

type Booked struct {
	Times []string `json:"times"`
	Meta  Meta     `json:"meta"`
}

// GetAvailability returns the bookable times per date over the requested
// range. Dates with zero available slots are omitted; dates and times are
// ascending.
func (s *Service) GetAvailability(ctx context.Context, q Query) (Result, error) {
	avail, _, meta, err := s.compute(ctx, q)
	if err != nil {
		return Result{}, err
	}

	data := make(map[string][]string, len(avail))
	for date, times := range avail {
		if len(times) > 0 {
			data[date] = times
		}
	}
	return Result{Data: data, Meta: meta}, nil
}

// GetBookedSlots is the complement view: template slots a concurrent
// GetAvailability call would exclude, computed from the same template and the
// same source so the two read paths cannot drift.
func (s *Service) GetBookedSlots(ctx context.Context, date, resource, service string) (Booked, error) {
	q := Query{Resource: resource, Service: service, DateFrom: date, Days: 1}
	avail, templates, meta, err := s.compute(ctx, q)
	if err != nil {
		return Booked{}, err
	}

	free := make(map[string]struct{}, len(avail[date]))
	for _, t := range avail[date] {
		free[t] = struct{}{}
	}
	booked := make([]string, 0, len(templates[date]))
	for _, t := range templates[date] {
		if _, ok := free[t]; !ok {
			booked = append(booked, t)
		}
	}
	return Booked{Times: booked, Meta: meta}, nil
}

func (s *Service) IsSlotAvailable(ctx context.Context, date, hhmm, resource, service string, fresh bool) (bool, Meta, error) {
	mins, err := domain.ClockMinutes(hhmm)
	if err != nil {
		return false, Meta{}, err
	}
	q := Query{Resource: resource, Service: service, DateFrom: date, Days: 1, Fresh: fresh}
	avail, _, meta, err := s.compute(ctx, q)
	if err != nil {
		return false, Meta{}, err
	}
	want := domain.ClockString(mins)
	for _, t := range avail[date] {
		if t == want {
			return true, meta, nil
		}
	}
	return false, meta, nil
}

// compute runs the full pipeline once: validate, build templates, pick the
// source strategy, filter. It returns availability and templates per date.
func (s *Service) compute(ctx context.Context, q Query) (map[string][]string, map[string][]string, Meta, error) {
	resource := q.Resource
	if resource == "" {
		resource = domain.ResourceEither
	}
	if resource != domain.ResourceEither {
		if _, ok := s.cfg.Bindings[resource]; !ok {
			return nil, nil, Meta{}, domain.Errorf(domain.CodeValidation, "unknown resource %q", resource)
		}
	}

	duration, err := s.resolveDuration(q.Service)
	if err != nil {
		return nil, nil, Meta{}, err
	}

	dates, err := s.dateRange(q.DateFrom, q.Days)
	if err != nil {
		return nil, nil, Meta{}, err
	}

	templates := make(map[string][]string, len(dates))
	for _, date := range dates {
		tmpl, err := s.template(ctx, date)
		if err != nil {
			return nil, nil, Meta{}, err
		}
		templates[date] = tmpl
	}

	chk, meta, err := s.checker(ctx, q, dates, templates)
	if err != nil {
		return nil, nil, Meta{}, err
	}

	avail := make(map[string][]string, len(dates))
	for _, date := range dates {
		tmplSet := make(map[string]struct{}, len(templates[date]))
		for _, t := range templates[date] {
			tmplSet[t] = struct{}{}
		}
		var times []string
		for _, t := range templates[date] {
			if chk.available(date, t, resource, duration, tmplSet) {
				times = append(times, t)
			}
		}
		avail[date] = times
	}
	return avail, templates, meta, nil
}

func (s *Service) resolveDuration(service string) (int, error) {
	if service == "" {
		return s.cfg.step(), nil
	}
	d, ok := s.cfg.Durations[service]
	if !ok {
		return 0, domain.Errorf(domain.CodeValidation, "unknown service %q", service)
	}
	return domain.RoundUpToStep(d, s.cfg.step()), nil
}

func (s *Service) dateRange(dateFrom string, days int) ([]string, error) {
	start, err := domain.ParseDate(dateFrom)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 1
	}
	if days > maxRangeDays {
		days = maxRangeDays
	}
	out := make([]string, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, start.AddDate(0, 0, i).Format(domain.DateLayout))
	}
	return out, nil
}

// template builds the slot template for one date: the stored per-date
// configuration, or the generated default pattern when none is configured.
func (s *Service) template(ctx context.Context, date string) ([]string, error) {
	times, configured, err := s.sched.DaySlots(ctx, date)
	if err != nil {
		return nil, err
	}
	if configured {
		return domain.NormalizeTimes(times), nil
	}
	return domain.DefaultDaySlots(s.cfg.step(), s.cfg.OpenTime, s.cfg.CloseTime), nil
}

type slotChecker interface {
	available(date, hhmm, resource string, durationMin int, tmpl map[string]struct{}) bool
}

// checker selects the source strategy once per request. Live mode issues a
// single batched free/busy call for the whole range; on failure the
// configured fail policy decides between surfacing the error (block) and
// falling back to the local computation flagged as degraded.
func (s *Service) checker(ctx context.Context, q Query, dates []string, templates map[string][]string) (slotChecker, Meta, error) {
	if s.cfg.SourceMode != ModeGoogle {
		chk, err := s.localChecker(ctx, dates)
		if err != nil {
			return nil, Meta{}, err
		}
		return chk, Meta{Source: SourceStore}, nil
	}

	busy, err := s.fetchBusy(ctx, dates, q.Fresh)
	if err == nil {
		return &liveChecker{cfg: s.cfg, busy: busy}, Meta{Source: SourceGoogle}, nil
	}

	if s.cfg.FailPolicy == PolicyBlock {
		return nil, Meta{}, err
	}

	s.log.Warn("calendar unavailable; serving degraded availability",
		slog.String("date_from", dates[0]),
		slog.Int("days", len(dates)),
		slog.Any("err", err),
	)
	chk, lerr := s.localChecker(ctx, dates)
	if lerr != nil {
		return nil, Meta{}, lerr
	}
	return chk, Meta{Source: SourceFallback, Degraded: true}, nil
}

func (s *Service) localChecker(ctx context.Context, dates []string) (*localChecker, error) {
	appts, err := s.appts.ListRange(ctx, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, err
	}
	byDate := make(map[string][]domain.Appointment)
	for _, a := range appts {
		if a.Active() {
			byDate[a.Date] = append(byDate[a.Date], a)
		}
	}
	return &localChecker{cfg: s.cfg, byDate: byDate}, nil
}

func (s *Service) fetchBusy(ctx context.Context, dates []string, fresh bool) (map[string][]domain.Interval, error) {
	ids := make([]string, 0, len(s.cfg.Bindings))
	for _, id := range s.cfg.Bindings {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, domain.Errorf(domain.CodeCalendarNotConfigured, "no resource calendar bindings")
	}
	sort.Strings(ids)

	loc := s.cfg.location()
	first, err := domain.ParseDate(dates[0])
	if err != nil {
		return nil, err
	}
	last, err := domain.ParseDate(dates[len(dates)-1])
	if err != nil {
		return nil, err
	}
	timeMin := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	timeMax := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	res, err := s.cal.FreeBusy(ctx, ids, timeMin, timeMax, fresh)
	if err != nil {
		return nil, err
	}
	return res.Calendars, nil
}

// localChecker filters against non-cancelled stored appointments, entirely in
// memory against the snapshot taken at construction.
type localChecker struct {
	cfg    Config
	byDate map[string][]domain.Appointment
}

func (c *localChecker) available(date, hhmm, resource string, durationMin int, tmpl map[string]struct{}) bool {
	if !templateSupports(tmpl, hhmm, durationMin, c.cfg.step()) {
		return false
	}
	start, err := domain.ClockMinutes(hhmm)
	if err != nil {
		return false
	}
	end := start + durationMin

	for _, a := range c.byDate[date] {
		if !domain.ResourcesOverlap(a.Resource, resource) {
			continue
		}
		aStart, err := domain.ClockMinutes(a.Time)
		if err != nil {
			continue
		}
		aDur := a.DurationMinutes(c.cfg.Durations, c.cfg.step())
		if start < aStart+aDur && aStart < end {
			return false
		}
	}
	return true
}

// liveChecker filters against upstream busy intervals. For the "either"
// resource a slot is available when it is free for at least one concrete
// resource.
type liveChecker struct {
	cfg  Config
	busy map[string][]domain.Interval
}

func (c *liveChecker) available(date, hhmm, resource string, durationMin int, tmpl map[string]struct{}) bool {
	if !templateSupports(tmpl, hhmm, durationMin, c.cfg.step()) {
		return false
	}
	if resource == domain.ResourceEither {
		for _, r := range c.cfg.ConcreteResources() {
			if c.freeFor(date, hhmm, r, durationMin) {
				return true
			}
		}
		return false
	}
	return c.freeFor(date, hhmm, resource, durationMin)
}

func (c *liveChecker) freeFor(date, hhmm, resource string, durationMin int) bool {
	start, err := domain.SlotStart(date, hhmm, c.cfg.location())
	if err != nil {
		return false
	}
	slot := domain.Interval{Start: start, End: start.Add(time.Duration(durationMin) * time.Minute)}
	for _, busy := range c.busy[c.cfg.Bindings[resource]] {
		if slot.Overlaps(busy) {
			return false
		}
	}
	return true
}

// templateSupports verifies the duration support invariant: every
// step-aligned sub-slot needed to cover the full duration must exist in the
// date's template.
func templateSupports(tmpl map[string]struct{}, hhmm string, durationMin, stepMin int) bool {
	subs, ok := domain.SubSlots(hhmm, durationMin, stepMin)
	if !ok {
		return false
	}
	for _, sub := range subs {
		if _, ok := tmpl[sub]; !ok {
			return false
		}
	}
	return true
}

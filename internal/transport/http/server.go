package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"clinicdesk/backend/internal/domain"
	"clinicdesk/backend/internal/google"
	"clinicdesk/backend/internal/service/availability"
	"clinicdesk/backend/internal/service/booking"
	"clinicdesk/backend/internal/store"
)

type AvailabilityService interface {
	GetAvailability(ctx context.Context, q availability.Query) (availability.Result, error)
	GetBookedSlots(ctx context.Context, date, resource, service string) (availability.Booked, error)
}

type BookingService interface {
	Book(ctx context.Context, in booking.BookInput) (domain.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, date, hhmm string) (domain.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) error
}

type CalendarStatus interface {
	Status() google.StatusSnapshot
}

type Server struct {
	echo   *echo.Echo
	avail  AvailabilityService
	book   BookingService
	status CalendarStatus
	log    *slog.Logger
}

func NewServer(avail AvailabilityService, book BookingService, status CalendarStatus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		avail:  avail,
		book:   book,
		status: status,
		log:    log.With(slog.String("component", "http")),
	}

	e.GET("/healthz", s.health)
	v1 := e.Group("/v1")
	v1.GET("/availability", s.getAvailability)
	v1.GET("/booked-slots", s.getBookedSlots)
	v1.POST("/appointments", s.createAppointment)
	v1.PATCH("/appointments/:id", s.rescheduleAppointment)
	v1.DELETE("/appointments/:id", s.cancelAppointment)
	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	resp := map[string]any{"status": "ok"}
	if s.status != nil {
		resp["calendar"] = s.status.Status()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getAvailability(c echo.Context) error {
	days := 1
	if err := echo.QueryParamsBinder(c).Int("days", &days).BindError(); err != nil {
		return s.writeError(c, domain.Errorf(domain.CodeValidation, "invalid days"))
	}
	res, err := s.avail.GetAvailability(c.Request().Context(), availability.Query{
		Resource: c.QueryParam("resource"),
		Service:  c.QueryParam("service"),
		DateFrom: c.QueryParam("date_from"),
		Days:     days,
		Fresh:    c.QueryParam("fresh") == "true",
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getBookedSlots(c echo.Context) error {
	res, err := s.avail.GetBookedSlots(
		c.Request().Context(),
		c.QueryParam("date"),
		c.QueryParam("resource"),
		c.QueryParam("service"),
	)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type createAppointmentRequest struct {
	Date         string `json:"date"`
	Time         string `json:"time"`
	Resource     string `json:"resource"`
	Service      string `json:"service"`
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	Notes        string `json:"notes"`
}

func (s *Server) createAppointment(c echo.Context) error {
	var req createAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, domain.Errorf(domain.CodeValidation, "invalid request body"))
	}
	appt, err := s.book.Book(c.Request().Context(), booking.BookInput{
		Date:         req.Date,
		Time:         req.Time,
		Resource:     req.Resource,
		Service:      req.Service,
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		Notes:        req.Notes,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": appt})
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (s *Server) rescheduleAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.writeError(c, domain.Errorf(domain.CodeValidation, "invalid appointment id"))
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, domain.Errorf(domain.CodeValidation, "invalid request body"))
	}
	appt, err := s.book.Reschedule(c.Request().Context(), id, req.Date, req.Time)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": appt})
}

func (s *Server) cancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return s.writeError(c, domain.Errorf(domain.CodeValidation, "invalid appointment id"))
	}
	if err := s.book.CancelAppointment(c.Request().Context(), id); err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) writeError(c echo.Context, err error) error {
	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case code == domain.CodeValidation || code == domain.CodeCalendarBadRequest:
		status = http.StatusBadRequest
	case code == domain.CodeSlotUnavailable || code == domain.CodeSlotLocked:
		status = http.StatusConflict
	case code == domain.CodeCalendarUnreachable,
		code == domain.CodeCalendarAuthFailed,
		code == domain.CodeCalendarNotConfigured:
		status = http.StatusServiceUnavailable
	case code == domain.CodeCalendarRequestRejected:
		status = http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		message = "appointment not found"
	}

	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message()
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", c.Path()), slog.Any("err", err))
	}
	return c.JSON(status, map[string]any{
		"error": map[string]string{"code": orUnknown(code), "message": message},
	})
}

func orUnknown(code string) string {
	if code == "" {
		return "internal"
	}
	return code
}

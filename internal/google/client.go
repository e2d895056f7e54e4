// Package google is the wire-level client for the external calendar API:
// free/busy queries, event mutations, response caching and health recording.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"clinicdesk/backend/internal/cache"
	"clinicdesk/backend/internal/domain"
)

const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type ClientConfig struct {
	BaseURL  string
	TimeZone string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type Client struct {
	tokens  TokenSource
	hc      *http.Client
	baseURL string
	tz      string
	fbCache cache.Store
	fbTTL   time.Duration
	status  *Status
	log     *slog.Logger
	now     func() time.Time
}

func NewClient(tokens TokenSource, fbCache cache.Store, cfg ClientConfig, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if fbCache == nil {
		fbCache = cache.NewMemory()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		tokens:  tokens,
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
		tz:      cfg.TimeZone,
		fbCache: fbCache,
		fbTTL:   ttl,
		status:  newStatus(time.Now),
		log:     log.With(slog.String("component", "google.client")),
		now:     time.Now,
	}
}

func (c *Client) Status() StatusSnapshot {
	return c.status.Snapshot()
}

type FreeBusyResult struct {
	Calendars map[string][]domain.Interval
	Cached    bool
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyRequest struct {
	TimeMin  string         `json:"timeMin"`
	TimeMax  string         `json:"timeMax"`
	TimeZone string         `json:"timeZone,omitempty"`
	Items    []freeBusyItem `json:"items"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// FreeBusy queries busy intervals for a set of calendar identities over a
// time window in one batched call. Results are served from a TTL cache keyed
// by (sorted ids, window, time zone) unless bypass is set; cache hits carry
// the Cached marker.
func (c *Client) FreeBusy(ctx context.Context, calendarIDs []string, timeMin, timeMax time.Time, bypass bool) (FreeBusyResult, error) {
	if len(calendarIDs) == 0 {
		return FreeBusyResult{}, domain.Errorf(domain.CodeCalendarNotConfigured, "no calendar ids")
	}
	if !timeMax.After(timeMin) {
		return FreeBusyResult{}, domain.Errorf(domain.CodeCalendarBadRequest, "timeMax must be after timeMin")
	}

	ids := append([]string(nil), calendarIDs...)
	sort.Strings(ids)
	key := freeBusyCacheKey(ids, timeMin, timeMax, c.tz)

	if !bypass {
		if data, ok := c.fbCache.Get(key); ok {
			var calendars map[string][]domain.Interval
			if json.Unmarshal(data, &calendars) == nil {
				return FreeBusyResult{Calendars: calendars, Cached: true}, nil
			}
		}
	}

	items := make([]freeBusyItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, freeBusyItem{ID: id})
	}
	body := freeBusyRequest{
		TimeMin:  timeMin.Format(time.RFC3339),
		TimeMax:  timeMax.Format(time.RFC3339),
		TimeZone: c.tz,
		Items:    items,
	}

	data, err := c.do(ctx, "freebusy", http.MethodPost, c.baseURL+"/freeBusy", body)
	if err != nil {
		return FreeBusyResult{}, err
	}

	var resp freeBusyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return FreeBusyResult{}, domain.WrapError(domain.CodeCalendarUnreachable, err, "malformed freebusy response")
	}

	calendars := make(map[string][]domain.Interval, len(ids))
	for _, id := range ids {
		calendars[id] = nil
	}
	for id, cal := range resp.Calendars {
		busy := make([]domain.Interval, 0, len(cal.Busy))
		for _, b := range cal.Busy {
			busy = append(busy, domain.Interval{Start: b.Start, End: b.End})
		}
		calendars[id] = busy
	}

	if data, err := json.Marshal(calendars); err == nil {
		c.fbCache.Set(key, data, c.fbTTL)
	}
	return FreeBusyResult{Calendars: calendars}, nil
}

type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type ExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

type Event struct {
	ID                 string              `json:"id,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Location           string              `json:"location,omitempty"`
	Status             string              `json:"status,omitempty"`
	Start              *EventTime          `json:"start,omitempty"`
	End                *EventTime          `json:"end,omitempty"`
	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
}

type EventPatch struct {
	Start *EventTime `json:"start,omitempty"`
	End   *EventTime `json:"end,omitempty"`
}

func (c *Client) CreateEvent(ctx context.Context, calendarID string, ev Event) (Event, error) {
	if calendarID == "" {
		return Event{}, domain.Errorf(domain.CodeCalendarNotConfigured, "calendar id is empty")
	}
	data, err := c.do(ctx, "create_event", http.MethodPost, c.eventsURL(calendarID, ""), ev)
	if err != nil {
		return Event{}, err
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		return Event{}, domain.WrapError(domain.CodeCalendarUnreachable, err, "malformed event response")
	}
	c.purgeFreeBusy()
	return out, nil
}

func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, patch EventPatch) (Event, error) {
	if calendarID == "" || eventID == "" {
		return Event{}, domain.Errorf(domain.CodeCalendarBadRequest, "calendar id and event id are required")
	}
	data, err := c.do(ctx, "patch_event", http.MethodPatch, c.eventsURL(calendarID, eventID), patch)
	if err != nil {
		return Event{}, err
	}
	var out Event
	if err := json.Unmarshal(data, &out); err != nil {
		return Event{}, domain.WrapError(domain.CodeCalendarUnreachable, err, "malformed event response")
	}
	c.purgeFreeBusy()
	return out, nil
}

func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if calendarID == "" || eventID == "" {
		return domain.Errorf(domain.CodeCalendarBadRequest, "calendar id and event id are required")
	}
	if _, err := c.do(ctx, "delete_event", http.MethodDelete, c.eventsURL(calendarID, eventID), nil); err != nil {
		return err
	}
	c.purgeFreeBusy()
	return nil
}

// purgeFreeBusy drops every cached free/busy view. A stale busy view after a
// successful write is the one failure mode that directly causes
// double-booking, so the whole cache goes, not just the affected key.
func (c *Client) purgeFreeBusy() {
	c.fbCache.Clear()
}

func (c *Client) eventsURL(calendarID, eventID string) string {
	u := c.baseURL + "/calendars/" + url.PathEscape(calendarID) + "/events"
	if eventID != "" {
		u += "/" + url.PathEscape(eventID)
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body any) ([]byte, error) {
	started := c.now()
	data, err := c.doOnce(ctx, method, rawURL, body, op)
	d := c.now().Sub(started)
	c.status.record(op, d, err)
	if err != nil {
		c.log.Warn("calendar call failed",
			slog.String("op", op),
			slog.Duration("duration", d),
			slog.Any("err", err),
		)
		return nil, err
	}
	c.log.Debug("calendar call", slog.String("op", op), slog.Duration("duration", d))
	return data, nil
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, body any, op string) ([]byte, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		if domain.CodeOf(err) != "" {
			return nil, err
		}
		return nil, domain.WrapError(domain.CodeCalendarAuthFailed, err, op)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, domain.WrapError(domain.CodeCalendarBadRequest, err, op)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCalendarBadRequest, err, op)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCalendarUnreachable, err, op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.WrapError(domain.CodeCalendarUnreachable, err, op)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return data, nil
	case method == http.MethodDelete && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone):
		// The event is already gone; deletion is idempotent.
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Errorf(domain.CodeCalendarUnreachable, "%s returned %d", op, resp.StatusCode)
	default:
		return nil, domain.Errorf(domain.CodeCalendarRequestRejected, "%s returned %d", op, resp.StatusCode)
	}
}

func freeBusyCacheKey(sortedIDs []string, timeMin, timeMax time.Time, tz string) string {
	return "freebusy:" + strings.Join(sortedIDs, ",") +
		"|" + timeMin.Format(time.RFC3339) +
		"|" + timeMax.Format(time.RFC3339) +
		"|" + tz
}

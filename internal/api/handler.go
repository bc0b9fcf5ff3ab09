package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metric"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc           *analytics.Service
	repo          domain.Repository
	cache         domain.Cache
	bus           domain.EventBus
	defaultWindow int
	version       string
}

// NewHandler creates a new API handler.
func NewHandler(svc *analytics.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, defaultWindow int, version string) *Handler {
	if defaultWindow <= 0 {
		defaultWindow = domain.DefaultWindowDays
	}
	return &Handler{
		svc:           svc,
		repo:          repo,
		cache:         cache,
		bus:           bus,
		defaultWindow: defaultWindow,
		version:       version,
	}
}

// RangeResponse is the response for GET /range.
type RangeResponse struct {
	Min           *string `json:"min"`
	Max           *string `json:"max"`
	WindowChoices []int   `json:"windowChoices"`
	DefaultWindow int     `json:"defaultWindow"`
}

// AggregateResponse is the response for GET /aggregate.
type AggregateResponse struct {
	Metric     string                 `json:"metric"`
	Kind       domain.AggregationKind `json:"kind"`
	Reference  string                 `json:"reference"`
	WindowDays int                    `json:"windowDays"`
	Current    *float64               `json:"current"`
	Previous   *float64               `json:"previous"`
	Delta      *float64               `json:"delta"`
}

// DetailResponse is the response for GET /detail.
type DetailResponse struct {
	Metric     string                 `json:"metric"`
	Kind       domain.AggregationKind `json:"kind"`
	Reference  string                 `json:"reference"`
	WindowDays int                    `json:"windowDays"`
	Group      string                 `json:"group,omitempty"`
	Points     any                    `json:"points"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready. Every configured component must answer a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)

	if h.repo == nil {
		failures["repository"] = "not configured"
	} else if err := h.repo.Ping(r.Context()); err != nil {
		failures["repository"] = err.Error()
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			failures["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			failures["eventBus"] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":    false,
			"failures": failures,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
	})
}

// DateRange handles GET /range.
func (h *Handler) DateRange(w http.ResponseWriter, r *http.Request) {
	bounds, err := h.svc.DateRange(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RangeResponse{
		Min:           formatDay(bounds.Min),
		Max:           formatDay(bounds.Max),
		WindowChoices: domain.WindowChoices,
		DefaultWindow: h.defaultWindow,
	})
}

// Aggregate handles GET /aggregate?metric=&kind=&date=&window=.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, kind, err := parseMetric(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cmp, err := h.svc.Aggregate(ctx, m, kind, reference, days)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AggregateResponse{
		Metric:     m.Canonical(),
		Kind:       kind,
		Reference:  domain.Day(reference).Format(domain.DateLayout),
		WindowDays: days,
		Current:    cmp.Current,
		Previous:   cmp.Previous,
		Delta:      cmp.Delta(),
	})
}

// Detail handles GET /detail?metric=&kind=&date=&window=[&group=category].
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, kind, err := parseMetric(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := DetailResponse{
		Metric:     m.Canonical(),
		Kind:       kind,
		Reference:  domain.Day(reference).Format(domain.DateLayout),
		WindowDays: days,
	}

	switch group := r.URL.Query().Get("group"); group {
	case "":
		resp.Points, err = h.svc.Detail(ctx, m, kind, reference, days)
	case "category":
		resp.Group = group
		resp.Points, err = h.svc.DetailByCategory(ctx, m, kind, reference, days)
	default:
		err = fmt.Errorf("%w: unsupported group %q", domain.ErrInvalidParameter, group)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Breakdown handles GET /breakdown?date=&window=.
func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.svc.CategoryBreakdown(r.Context(), reference, days)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reference":  domain.Day(reference).Format(domain.DateLayout),
		"windowDays": days,
		"rows":       stats,
	})
}

// Orders handles GET /orders?date=&window=&limit=.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer, got %q", domain.ErrInvalidParameter, raw))
			return
		}
		if ceiling := h.svc.OrderLimit(); ceiling > 0 && limit > ceiling {
			writeError(w, r, fmt.Errorf("%w: limit must be at most %d, got %d", domain.ErrInvalidParameter, ceiling, limit))
			return
		}
	}

	orders, err := h.svc.Orders(r.Context(), reference, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reference":  domain.Day(reference).Format(domain.DateLayout),
		"windowDays": days,
		"count":      len(orders),
		"orders":     orders,
	})
}

// KPIs handles GET /kpis?date=&window=.
func (h *Handler) KPIs(w http.ResponseWriter, r *http.Request) {
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	kpis, err := h.svc.KPIs(r.Context(), reference, days)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reference":  domain.Day(reference).Format(domain.DateLayout),
		"windowDays": days,
		"kpis":       kpis,
	})
}

// Dashboard handles GET /dashboard?date=&window=.
// Widget failures are reported inside a 200 response.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	reference, days, err := h.parsePeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dashboard, err := h.svc.Dashboard(r.Context(), reference, days)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

// InvalidateCache handles POST /cache/invalidate. The local cache is flushed
// immediately and other instances are told through the event bus.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if err := h.cache.Flush(ctx); err != nil {
			slog.Error("cache flush failed", "error", err)
			writeError(w, r, err)
			return
		}
	}

	published := false
	if h.bus != nil {
		event := domain.DatasetRefreshed{Source: "api"}
		if err := worker.PublishRefreshed(ctx, h.bus, event); err != nil {
			slog.Warn("failed to publish refresh event", "error", err)
		} else {
			published = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"flushed":   h.cache != nil,
		"published": published,
	})
}

// parseMetric reads the metric expression and aggregation kind, defaulting
// to sum of sales.
func parseMetric(r *http.Request) (domain.Metric, domain.AggregationKind, error) {
	q := r.URL.Query()

	expr := q.Get("metric")
	if expr == "" {
		expr = metric.Sales
	}
	m, err := metric.Parse(expr)
	if err != nil {
		return nil, 0, err
	}

	kind := domain.Sum
	if raw := q.Get("kind"); raw != "" {
		if kind, err = domain.ParseAggregationKind(raw); err != nil {
			return nil, 0, err
		}
	}
	return m, kind, nil
}

// parsePeriod reads the reference date and window. The date defaults to the
// latest order date and the window to the configured default.
func (h *Handler) parsePeriod(r *http.Request) (time.Time, int, error) {
	q := r.URL.Query()

	days := h.defaultWindow
	if raw := q.Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: window must be an integer, got %q", domain.ErrInvalidParameter, raw)
		}
		days = n
	}

	if raw := q.Get("date"); raw != "" {
		reference, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: date must be formatted as YYYY-MM-DD, got %q", domain.ErrInvalidParameter, raw)
		}
		return reference, days, nil
	}

	bounds, err := h.svc.DateRange(r.Context())
	if err != nil {
		return time.Time{}, 0, err
	}
	if bounds.Max == nil {
		return domain.Day(time.Now().UTC()), days, nil
	}
	return domain.Day(*bounds.Max), days, nil
}

func formatDay(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(domain.DateLayout)
	return &s
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQueryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal server error"
	}

	writeJSON(w, status, map[string]string{
		"error":   message,
		"traceId": GetTraceID(r.Context()),
	})
}

// writeJSON encodes data before writing headers so that an unencodable value,
// such as a NaN, becomes a 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

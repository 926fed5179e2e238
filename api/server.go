package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/place-radar/internal/agent"
	"github.com/DeafMist/place-radar/internal/config"
	"github.com/DeafMist/place-radar/internal/elasticsearch"
	"github.com/DeafMist/place-radar/internal/report"
)

const (
	maxRequestBody = 1 << 20
	agentTimeout   = 30 * time.Second
)

type agentAPI interface {
	ListBrands(ctx context.Context) ([]agent.Brand, error)
	VerifyPlace(ctx context.Context, placeURL, keyword string) (*agent.PlaceInfo, error)
	RegisterBrand(ctx context.Context, place agent.PlaceInfo, placeURL, keyword string) (agent.TaskAck, error)
	CreateAnalysisTask(ctx context.Context, b agent.Brand) (agent.TaskAck, error)
	LatestReport(ctx context.Context, brandName string) (agent.ReportRef, error)
	FetchReport(ctx context.Context, reportID string) (*report.Node, error)
}

type reportStore interface {
	Health(ctx context.Context) error
	SearchReports(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
}

type server struct {
	log   *slog.Logger
	cfg   *config.API
	es    reportStore
	agent agentAPI
}

type errorResponse struct {
	Error string `json:"error"`
}

type placeRequest struct {
	PlaceURL string `json:"place_url"`
	Keyword  string `json:"keyword"`
}

type taskResponse struct {
	TaskID    agent.ID `json:"task_id"`
	BrandName string   `json:"brand_name"`
}

type latestResponse struct {
	ReportID  agent.ID `json:"report_id"`
	BrandName string   `json:"brand_name"`
	CreatedAt string   `json:"created_at,omitempty"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/brands", s.handleListBrands)
		r.Post("/brands", s.handleRegisterBrand)
		r.Post("/brands/{brandName}/analysis", s.handleCreateAnalysis)
		r.Get("/brands/{brandName}/reports/latest", s.handleLatestReport)
		r.Post("/places/verify", s.handleVerifyPlace)
		r.Get("/reports/search", s.handleSearch)
		r.Get("/reports/{reportId}/view", s.handleReportView)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	brands, err := s.agent.ListBrands(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (s *server) handleVerifyPlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	info, err := s.agent.VerifyPlace(ctx, req.PlaceURL, req.Keyword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":     info.Name,
		"category": info.Category.String(),
		"address":  info.Address,
	})
}

func (s *server) handleRegisterBrand(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	// The brand name is whatever the listing is called, so the place has to
	// be verified first.
	info, err := s.agent.VerifyPlace(ctx, req.PlaceURL, req.Keyword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ack, err := s.agent.RegisterBrand(ctx, *info, req.PlaceURL, req.Keyword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: ack.TaskID, BrandName: info.Name})
}

func (s *server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	name := brandParam(r)

	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	brands, err := s.agent.ListBrands(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var brand *agent.Brand
	for i := range brands {
		if brands[i].BrandName == name {
			brand = &brands[i]
			break
		}
	}
	if brand == nil {
		s.writeError(w, r, fmt.Errorf("brand %q: %w", name, agent.ErrNotFound))
		return
	}

	ack, err := s.agent.CreateAnalysisTask(ctx, *brand)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: ack.TaskID, BrandName: brand.BrandName})
}

func (s *server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	ref, err := s.agent.LatestReport(ctx, brandParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, latestResponse{ReportID: ref.ID, BrandName: ref.BrandName, CreatedAt: ref.CreatedAt})
}

func (s *server) handleReportView(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportId")

	ctx, cancel := context.WithTimeout(r.Context(), agentTimeout)
	defer cancel()

	raw, err := s.agent.FetchReport(ctx, reportID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := report.BuildView(raw)
	if len(view.Conflicts) > 0 {
		s.log.Warn("report matched several envelope shapes",
			slog.String("report_id", reportID),
			slog.Any("wrappers", view.Conflicts),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:   strings.TrimSpace(q.Get("q")),
		Brand:   strings.TrimSpace(q.Get("brand")),
		Keyword: strings.TrimSpace(q.Get("keyword")),
		State:   strings.TrimSpace(q.Get("state")),
		Tags:    parseCSV(q.Get("tags")),
		From:    clampInt(q.Get("from"), 0, 10_000),
		Size:    clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:    strings.TrimSpace(q.Get("sort")),
		Start:   parseTime(q.Get("start")),
		End:     parseTime(q.Get("end")),
	}

	if params.State != "" && !validState(params.State) {
		s.writeError(w, r, fmt.Errorf("unknown state %q: %w", params.State, agent.ErrInvalidInput))
		return
	}

	result, err := s.es.SearchReports(ctx, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeError maps client errors onto HTTP statuses and logs the rest.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var remote *agent.RemoteError
	switch {
	case errors.Is(err, agent.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrNotFound), errors.Is(err, agent.ErrNoReports):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrBrandNotReady):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &remote):
		if remote.StatusCode == 0 || remote.StatusCode == http.StatusBadRequest || remote.StatusCode == http.StatusUnprocessableEntity {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, agent.ErrInvalidInput)
	}
	return nil
}

// brandParam returns the decoded brand name. chi matches on RawPath when the
// request carried escapes Path cannot represent, such as %2F, and the param is
// still escaped only in that case.
func brandParam(r *http.Request) string {
	raw := chi.URLParam(r, "brandName")
	if r.URL.RawPath == "" {
		return raw
	}
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func validState(state string) bool {
	switch report.State(state) {
	case report.StateReady, report.StateNoSummary, report.StateNoReport:
		return true
	}
	return false
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

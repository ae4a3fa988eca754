package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/art-injener/satscan-go/internal/celestrak"
	"github.com/art-injener/satscan-go/internal/export"
	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

// runRequest тело запросов /track, /scan и /export.
// TLE задаётся строками или norad_id; дата начала временем RFC 3339 или start_date.
type runRequest struct {
	simulation.Request
	NoradID   int    `json:"norad_id,omitempty"`
	StartDate string `json:"start_date,omitempty"` // ДД-ММ-ГГГГ, полночь UTC
}

type liveRequest struct {
	simulation.LiveRequest
	NoradID int `json:"norad_id,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRun(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Target = nil

	s.runAndReport(w, r, req)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeRun(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Target == nil {
		s.writeError(w, r, fmt.Errorf("%w: target point is required", simulation.ErrInvalidRequest))
		return
	}

	s.runAndReport(w, r, req)
}

func (s *Server) runAndReport(w http.ResponseWriter, r *http.Request, req simulation.Request) {
	report, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteReport(&buf, report); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.FormatJSON.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	var req liveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Line1 == "" && req.Line2 == "" && req.NoradID > 0 {
		tle, err := s.resolve(r.Context(), req.NoradID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Name, req.Line1, req.Line2 = tle.Name, tle.Line1, tle.Line2
	}

	fix, err := s.runner.Live(r.Context(), req.LiveRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fix)
}

// handleExport выполняет прогон и отдаёт одну таблицу отчёта.
// Параметры: format=json|csv, data=samples|footprints|segments|matches|passes|failures.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := export.ParseTable(r.URL.Query().Get("data"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := s.decodeRun(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if (data == export.TableMatches || data == export.TablePasses) && req.Target == nil {
		s.writeError(w, r, fmt.Errorf("%w: target point is required for %s", simulation.ErrInvalidRequest, data))
		return
	}

	report, err := s.runner.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTable(&buf, format, report, data); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%d_%s.csv", report.NoradID, data)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// decodeRun разбирает тело запроса поверх параметров по умолчанию.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (simulation.Request, error) {
	req := runRequest{Request: s.base}
	if err := decodeBody(w, r, &req); err != nil {
		return simulation.Request{}, err
	}

	// Явное начало окна важнее from_epoch по умолчанию
	if req.StartDate != "" {
		start, err := simulation.ParseStartDate(req.StartDate)
		if err != nil {
			return simulation.Request{}, err
		}
		req.Start = start
	}
	if !req.Start.IsZero() {
		req.FromEpoch = false
	}

	if req.Line1 == "" && req.Line2 == "" && req.NoradID > 0 {
		tle, err := s.resolve(r.Context(), req.NoradID)
		if err != nil {
			return simulation.Request{}, err
		}
		req.Name, req.Line1, req.Line2 = tle.Name, tle.Line1, tle.Line2
	}

	if err := req.CheckBudget(s.maxSamples); err != nil {
		return simulation.Request{}, err
	}

	return req.Request, nil
}

// resolve загружает TLE по каталожному номеру.
func (s *Server) resolve(ctx context.Context, noradID int) (*tracker.TLE, error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: norad_id lookup is not configured, pass TLE lines", simulation.ErrInvalidRequest)
	}

	tle, origin, err := s.source.Fetch(ctx, noradID)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "resolved TLE", "norad_id", noradID, "origin", string(origin))

	return tle, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", simulation.ErrInvalidRequest, err)
	}

	return nil
}

// statusFor сопоставляет ошибку коду ответа.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simulation.ErrTooManySamples),
		errors.Is(err, simulation.ErrInvalidRequest),
		errors.Is(err, simulation.ErrUnknownRateUnit),
		errors.Is(err, tracker.ErrMalformedTLE),
		errors.Is(err, tracker.ErrInvalidWindow),
		errors.Is(err, tracker.ErrInvalidPoint),
		errors.Is(err, tracker.ErrUnknownModel),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, export.ErrUnknownTable):
		return http.StatusBadRequest
	case errors.Is(err, celestrak.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simulation.ErrNoSamples),
		errors.Is(err, tracker.ErrDecayedOrbit),
		errors.Is(err, tracker.ErrPropagationDivergence),
		errors.Is(err, tracker.ErrPolarSingularity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, celestrak.ErrLoadFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	body := map[string]any{"error": err.Error()}
	if reason := tracker.ReasonOf(err); reason != "unknown" {
		body["reason"] = reason
	}

	var budget *simulation.BudgetError
	if errors.As(err, &budget) {
		body["reason"] = "too_many_samples"
		body["max_samples"] = budget.Max
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

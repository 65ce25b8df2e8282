package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"sensor-dashboard/internal/backend"
	"sensor-dashboard/internal/cache"
	"sensor-dashboard/internal/export"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/pipeline"
	"sensor-dashboard/internal/threshold"
	"sensor-dashboard/internal/timeseries"
	"sensor-dashboard/internal/upload"

	"github.com/gorilla/mux"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack нужен для апгрейда /ws до websocket
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// observe считает запросы и их длительность по шаблону маршрута
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidSettings),
		errors.Is(err, timeseries.ErrBadTimestamp),
		errors.Is(err, pipeline.ErrDuplicateID),
		errors.Is(err, pipeline.ErrEmptyDataset),
		errors.Is(err, upload.ErrNotCSV),
		errors.Is(err, upload.ErrMalformed),
		errors.Is(err, upload.ErrMissingColumns),
		errors.Is(err, upload.ErrNoSensorColumns),
		errors.Is(err, upload.ErrEmptyDataset),
		errors.Is(err, backend.ErrInvalidInterval),
		errors.Is(err, backend.ErrUploadRejected),
		errors.Is(err, cache.ErrInvalidPreference):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoData),
		errors.Is(err, threshold.ErrNoActiveAlert),
		errors.Is(err, cache.ErrUnknownPreference),
		errors.Is(err, export.ErrNothingToExport):
		return http.StatusNotFound
	case errors.Is(err, threshold.ErrAlertMismatch):
		return http.StatusConflict
	case errors.Is(err, backend.ErrBackend):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail пишет ошибку с кодом по её виду; 5xx дополнительно логируется
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}

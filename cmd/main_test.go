package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sensor-dashboard/internal/cache"
	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/threshold"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	srv      *httptest.Server
	interval atomic.Int64
	rows     atomic.Value
	saved    atomic.Value
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.interval.Store(30)
	fb.rows.Store(`[]`)
	fb.saved.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/all-data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fb.rows.Load().(string)))
	})
	mux.HandleFunc("/load-sensors", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sensor1":{"name":"Pressure","enabled":true,"min":0,"max":10,"unit":"bar"},
			"sensor7":{"name":"Temp","enabled":true,"min":0,"max":150,"unit":"C"}}`))
	})
	mux.HandleFunc("/save-sensors", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		fb.saved.Store(r.PostForm.Get("sensor1_name"))
		w.Write([]byte(`{"status":"success"}`))
	})
	mux.HandleFunc("/get-interval", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"secTimeInterval":%d}`, fb.interval.Load())
	})
	mux.HandleFunc("/set-interval", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Interval int64 `json:"interval"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		fb.interval.Store(body.Interval)
		fmt.Fprintf(w, `{"status":"success","secTimeInterval":%d}`, body.Interval)
	})
	mux.HandleFunc("/api/engine-data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"register":100,"value":1500},{"id":2,"register":101,"value":80},
			{"id":3,"register":102,"value":12},{"id":4,"register":103,"value":900},{"id":5,"register":104,"value":4}]`))
	})
	mux.HandleFunc("/api/powermeter-data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"register":0,"value":12},{"id":2,"register":0,"value":231}]`))
	})
	mux.HandleFunc("/upload-csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","message":"Missing required columns: Time"}`))
	})
	mux.HandleFunc("/api/system-state", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"running":true}`))
	})

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Redis.Addr = ""
	cfg.Timezone = "UTC"

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(cfg, cache.NewMemoryStore(), log)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(s.Stop)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("csvFile", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/viz/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// minuteCSV: n строк с шагом в минуту начиная с 2024-03-01 00:00
func minuteCSV(n int) string {
	var sb strings.Builder
	sb.WriteString("ID,Date,Time,CH1 Pressure,CH2\n")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		ts := start.Add(time.Duration(i) * time.Minute)
		fmt.Fprintf(&sb, "%d,%s,%s,%d,%d\n", i+1, ts.Format("2006-01-02"), ts.Format("15:04:05"), i%100, i%7)
	}
	return sb.String()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode(t, w)["status"])
}

func TestUploadAndVisualize(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	// Без данных настройки сохраняются, но пересчёта нет
	w := do(t, s, http.MethodPut, "/api/viz/settings", map[string]any{"timeRange": "1d", "interval": 300})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no_data", decode(t, w)["status"])

	w = do(t, s, http.MethodGet, "/api/viz/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// 10 дней по строке в минуту
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "log.csv", minuteCSV(10*24*60)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	require.Equal(t, "success", resp["status"])
	require.Contains(t, resp["message"], "14400 records loaded")

	stats := resp["stats"].(map[string]any)
	require.EqualValues(t, 14400, stats["total_records"])
	require.EqualValues(t, 289, stats["filtered_records"])
	require.Equal(t, "24h 0m", stats["time_span"])

	w = do(t, s, http.MethodGet, "/api/viz/charts/ch1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	series := decode(t, w)["series"].(map[string]any)
	require.Len(t, series["points"], 289)

	w = do(t, s, http.MethodGet, "/api/viz/table?per_page=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)["page"].(map[string]any)
	require.EqualValues(t, 289, page["total"])
	first := page["rows"].([]any)[0].(map[string]any)
	require.EqualValues(t, 14400, first["id"])

	w = do(t, s, http.MethodPut, "/api/viz/settings", map[string]any{"timeRange": "all", "interval": 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 14400, decode(t, w)["stats"].(map[string]any)["filtered_records"])

	w = do(t, s, http.MethodGet, "/api/viz/uploads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var uploads []cache.UploadRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploads))
	require.Len(t, uploads, 1)
	require.Equal(t, "log.csv", uploads[0].FileName)

	w = do(t, s, http.MethodDelete, "/api/viz/data", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodGet, "/api/viz/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRejectsBadFiles(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	cases := []struct {
		name, file, content string
	}{
		{"not csv", "log.txt", "ID,Date,Time,CH1\n1,2024-03-01,10:00:00,1\n"},
		{"missing columns", "log.csv", "ID,Time,CH1\n1,10:00:00,1\n"},
		{"no sensors", "log.csv", "ID,Date,Time,Note\n1,2024-03-01,10:00:00,x\n"},
		{"bad timestamp", "log.csv", "ID,Date,Time,CH1\n1,yesterday,noon,1\n"},
		{"duplicate id", "log.csv", "ID,Date,Time,CH1\n1,2024-03-01,10:00:00,1\n1,2024-03-01,10:01:00,2\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, uploadRequest(t, tc.file, tc.content))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			require.Equal(t, "error", decode(t, w)["status"])
		})
	}

	w := do(t, s, http.MethodGet, "/api/viz/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRemoteUploadRejected(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)
	s.cfg.Upload.Mode = config.UploadRemote

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "log.csv", "ID,Date\n1,2024-03-01\n"))
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Contains(t, decode(t, w)["message"], "Missing required columns: Time")

	w = do(t, s, http.MethodGet, "/api/viz/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExports(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, uploadRequest(t, "log.csv", minuteCSV(120)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/viz/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.True(t, strings.HasPrefix(lines[0], "ID,Date,Time,"))

	w = do(t, s, http.MethodGet, "/api/viz/export/png", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.NotEmpty(t, zr.File)
	for _, f := range zr.File {
		require.True(t, strings.HasSuffix(f.Name, "_chart.png"), f.Name)
	}

	w = do(t, s, http.MethodGet, "/api/viz/charts/ch1?format=png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = do(t, s, http.MethodGet, "/api/viz/charts/ch9", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLivePollAndAlert(t *testing.T) {
	fb := newFakeBackend(t)
	fb.rows.Store(`[{"id":1,"date":"2024-03-11","time":"09:00:00","ch1":5,"ch7":150},
		{"id":2,"date":"2024-03-11","time":"09:01:00","ch1":6,"ch7":250}]`)
	s := newTestServer(t, fb.srv.URL)
	ctx := context.Background()

	require.NoError(t, s.refreshCalibrations(ctx))
	s.pollData(ctx)

	w := do(t, s, http.MethodGet, "/api/live/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	labels := decode(t, w)["labels"].([]any)
	require.Equal(t, "Pressure (bar)", labels[0])

	w = do(t, s, http.MethodGet, "/api/alert", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, string(threshold.StateAlerting), resp["state"])
	alert := resp["alert"].(map[string]any)
	require.Equal(t, "Temp (C)", alert["sensor"])
	require.EqualValues(t, 250, alert["value"])

	w = do(t, s, http.MethodPost, "/api/alert/00000000-0000-0000-0000-000000000000/ack", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, fmt.Sprintf("/api/alert/%s/ack", alert["id"]), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/alert", nil)
	require.Equal(t, string(threshold.StateIdle), decode(t, w)["state"])

	w = do(t, s, http.MethodGet, "/api/live/summary?rows=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode(t, w)["rows"], 1)
}

func TestEmptyLivePollClearsCharts(t *testing.T) {
	fb := newFakeBackend(t)
	fb.rows.Store(`[{"id":1,"date":"2024-03-11","time":"09:00:00","ch1":5}]`)
	s := newTestServer(t, fb.srv.URL)
	ctx := context.Background()

	s.pollData(ctx)
	w := do(t, s, http.MethodGet, "/api/live/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	require.EqualValues(t, 1, stats["filtered_records"])

	fb.rows.Store(`[]`)
	s.pollData(ctx)

	w = do(t, s, http.MethodGet, "/api/live/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats = decode(t, w)["stats"].(map[string]any)
	require.EqualValues(t, 0, stats["filtered_records"])
	require.EqualValues(t, 0, stats["total_records"])

	w = do(t, s, http.MethodGet, "/api/live/charts/ch1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	series := decode(t, w)["series"].(map[string]any)
	require.Empty(t, series["points"])
}

func TestStaleLiveResponseIsDropped(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestServer(t, fb.srv.URL)
	live := s.pipelines[pipelineLive]

	gen := live.BeginRequest()
	live.BeginRequest()

	rows := `[{"id":1,"date":"2024-03-11","time":"09:00:00","ch1":5}]`
	fb.rows.Store(rows)
	data, err := s.backend.AllData(context.Background(), live.Settings().TimeRange, 1)
	require.NoError(t, err)

	_, applied, err := live.Apply(gen, data)
	require.NoError(t, err)
	require.False(t, applied)

	w := do(t, s, http.MethodGet, "/api/live/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestInterval(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestServer(t, fb.srv.URL)

	w := do(t, s, http.MethodPost, "/api/interval", map[string]int{"interval": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_range", decode(t, w)["status"])

	w = do(t, s, http.MethodPost, "/api/interval", map[string]int{"interval": 3601})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/interval", map[string]int{"interval": 60})
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 60, fb.interval.Load())
	require.Equal(t, 60*time.Second, s.poller.Period())

	w = do(t, s, http.MethodGet, "/api/interval", nil)
	require.EqualValues(t, 60, decode(t, w)["secTimeInterval"])

	// Интервал сменили с другого клиента
	fb.interval.Store(15)
	s.syncInterval(context.Background())
	require.Equal(t, 15*time.Second, s.poller.Period())
}

func TestEquipment(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	w := do(t, s, http.MethodGet, "/api/equipment", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	s.pollEquipment(context.Background())

	w = do(t, s, http.MethodGet, "/api/equipment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	engine := decode(t, w)["engine"].(map[string]any)
	require.NotEmpty(t, engine)

	w = do(t, s, http.MethodGet, "/api/equipment/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	require.Contains(t, stats, "e_speed")

	// Напряжение 231 выше порога 200
	w = do(t, s, http.MethodGet, "/api/alert", nil)
	alert := decode(t, w)["alert"].(map[string]any)
	require.Equal(t, "pm_voltage", alert["key"])

	w = do(t, s, http.MethodPost, "/api/alert/dismiss", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(threshold.StateIdle), decode(t, w)["state"])
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	w := do(t, s, http.MethodGet, "/api/preferences/selectedTimeRange", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1h", decode(t, w)["value"])

	w = do(t, s, http.MethodPut, "/api/preferences/selectedTimeRange", map[string]any{"value": "6h"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/preferences/selectedTimeRange", nil)
	require.Equal(t, "6h", decode(t, w)["value"])

	w = do(t, s, http.MethodPut, "/api/preferences/selectedTimeRange", map[string]any{"value": "5y"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/preferences/theme", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCalibrationsFallback(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestServer(t, fb.srv.URL)

	w := do(t, s, http.MethodPut, "/api/calibrations", map[string]any{
		"ch1": map[string]any{"name": "Suction", "enabled": true, "unit": "bar", "max": 10},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "Suction", fb.saved.Load())

	w = do(t, s, http.MethodGet, "/api/calibrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	labels := decode(t, w)["labels"].([]any)
	require.Equal(t, "Pressure (bar)", labels[0])
}

func TestBackendUnavailable(t *testing.T) {
	fb := newFakeBackend(t)
	s := newTestServer(t, fb.srv.URL)
	fb.srv.Close()

	w := do(t, s, http.MethodGet, "/api/system/state", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)

	s.pollData(context.Background())
	w = do(t, s, http.MethodGet, "/api/live/snapshot", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemState(t *testing.T) {
	s := newTestServer(t, newFakeBackend(t).srv.URL)

	w := do(t, s, http.MethodGet, "/api/system/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["running"])
}

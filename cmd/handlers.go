package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sensor-dashboard/internal/backend"
	"sensor-dashboard/internal/cache"
	"sensor-dashboard/internal/config"
	"sensor-dashboard/internal/export"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/pipeline"
	"sensor-dashboard/internal/stream"
	"sensor-dashboard/internal/upload"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (s *Server) pipelineFor(r *http.Request) *pipeline.Orchestrator {
	return s.pipelines[mux.Vars(r)["pipeline"]]
}

// publish обновляет метрики снимка и, для живой панели, рассылает его клиентам
func (s *Server) publish(o *pipeline.Orchestrator, snap *pipeline.Snapshot) {
	pipelineRecomputes.WithLabelValues(o.Name()).Inc()
	filteredRows.WithLabelValues(o.Name()).Set(float64(snap.Stats.FilteredRecords))

	if o.Name() == pipelineLive {
		s.hub.Broadcast(stream.TypeSnapshot, snap)
	}
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipelineFor(r).Settings())
}

func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	o := s.pipelineFor(r)

	var patch models.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	snap, err := o.UpdateSettings(patch)
	switch {
	case errors.Is(err, pipeline.ErrNoData):
		// Настройки сохранены, пересчитывать пока нечего
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "no_data",
			"settings": o.Settings(),
		})
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	s.publish(o, snap)
	if o.Name() == pipelineLive {
		// Старый ответ уже не применится, запрашиваем данные под новые настройки
		go s.pollData(s.baseCtx)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"settings": snap.Settings,
		"stats":    snap.Stats,
	})
}

func (s *Server) recomputeHandler(w http.ResponseWriter, r *http.Request) {
	o := s.pipelineFor(r)
	snap, err := o.Recompute()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(o, snap)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	channels := make(map[string]any, len(snap.Channels))
	for _, series := range snap.Channels {
		channels[series.Key] = map[string]any{
			"label":   series.Label,
			"enabled": series.Enabled,
			"summary": series.Summary,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats":    snap.Stats,
		"channels": channels,
	})
}

func (s *Server) chartHandler(w http.ResponseWriter, r *http.Request) {
	ch, err := models.ParseChannel(mux.Vars(r)["channel"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	series, ok := snap.Channel(ch)
	if !ok {
		// Пустой снимок: график очищается, а не остаётся со старыми точками
		series = pipeline.ChannelSeries{
			Channel:  ch,
			Key:      ch.Key(),
			Label:    snap.Labels[ch],
			Points:   []pipeline.Point{},
			Smoothed: []pipeline.Point{},
		}
	}

	if r.URL.Query().Get("format") == "png" {
		if len(series.Points) == 0 {
			s.fail(w, r, export.ErrNothingToExport)
			return
		}
		img, err := s.renderer.Render(series, snap.Settings.ChartType)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", export.ChartFileName(series.Label)))
		w.Write(img)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"chart_type": snap.Settings.ChartType,
		"series":     series,
	})
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	n := queryInt(r, "rows", s.cfg.Poll.SummaryRows)
	writeJSON(w, http.StatusOK, map[string]any{
		"labels": snap.Labels,
		"rows":   snap.Recent(n),
	})
}

func (s *Server) tableHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page := snap.Table(r.URL.Query().Get("q"), queryInt(r, "page", 1), queryInt(r, "per_page", 10))
	writeJSON(w, http.StatusOK, map[string]any{
		"labels": snap.Labels,
		"page":   page,
	})
}

func (s *Server) exportCSVHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, snap); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.CSVFileName(s.now())))
	w.Write(buf.Bytes())
}

func (s *Server) exportPNGHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipelineFor(r).Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := s.renderer.WriteArchive(r.Context(), &buf, snap)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("exported charts", "pipeline", s.pipelineFor(r).Name(), "charts", n)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.ArchiveFileName(s.now())))
	w.Write(buf.Bytes())
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxSize)
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}

	file, header, err := r.FormFile("csvFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if err := upload.CheckFileName(header.Filename); err != nil {
		s.fail(w, r, err)
		return
	}

	var (
		rows    []models.Row
		columns map[models.Channel]string
	)
	switch s.cfg.Upload.Mode {
	case config.UploadRemote:
		resp, err := s.backend.UploadCSV(r.Context(), header.Filename, file)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rows = resp.Data
	default:
		res, err := upload.Parse(file)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rows, columns = res.Rows, res.Columns
	}

	viz := s.pipelines[pipelineViz]
	snap, err := viz.Load(rows)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publish(viz, snap)

	ctx := r.Context()
	if err := s.datasets.Save(ctx, rows); err != nil {
		s.log.Warn("failed to cache uploaded dataset", "error", err)
	}
	rec := cache.UploadRecord{
		ID:         uuid.New(),
		FileName:   header.Filename,
		Rows:       len(rows),
		UploadedAt: s.now().UTC(),
	}
	if err := s.datasets.RecordUpload(ctx, rec); err != nil {
		s.log.Warn("failed to record upload", "error", err)
	}

	s.log.Info("dataset uploaded", "file", header.Filename, "rows", len(rows), "filtered", snap.Stats.FilteredRecords)

	detected := make(map[string]string, len(columns))
	for ch, col := range columns {
		detected[ch.Key()] = col
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  fmt.Sprintf("CSV file processed successfully. %d records loaded.", len(rows)),
		"filename": header.Filename,
		"upload":   rec,
		"columns":  detected,
		"stats":    snap.Stats,
	})
}

func (s *Server) clearDataHandler(w http.ResponseWriter, r *http.Request) {
	s.pipelines[pipelineViz].Clear()
	if err := s.datasets.Clear(r.Context()); err != nil {
		s.log.Warn("failed to clear cached dataset", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Data cleared"})
}

func (s *Server) uploadsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.datasets.RecentUploads(r.Context(), int64(queryInt(r, "limit", 10)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) alertHandler(w http.ResponseWriter, r *http.Request) {
	alert, ok := s.monitor.Active()
	resp := map[string]any{"state": s.monitor.State()}
	if ok {
		resp["alert"] = alert
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ackAlertHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.monitor.Acknowledge(id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.hub.Broadcast(stream.TypeAlertCleared, map[string]string{"id": id.String()})
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) dismissAlertHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor.Dismiss() {
		s.hub.Broadcast(stream.TypeAlertCleared, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "state": s.monitor.State()})
}

func (s *Server) getIntervalHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"secTimeInterval": int(s.poller.Period() / time.Second),
	})
}

func (s *Server) setIntervalHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Interval int `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval payload")
		return
	}
	if !backend.ValidInterval(body.Interval) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "invalid_range",
			"message": backend.ErrInvalidInterval.Error(),
		})
		return
	}

	secs, err := s.backend.SetInterval(r.Context(), body.Interval)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.applyInterval(secs)

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "secTimeInterval": secs})
}

func (s *Server) systemStateHandler(w http.ResponseWriter, r *http.Request) {
	running, err := s.backend.SystemState(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": running})
}

func (s *Server) systemStartHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Start(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) systemStopHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.Stop(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearLogHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.ClearLog(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Журнал очищен, живая панель начинает с пустого снимка
	s.pipelines[pipelineLive].Clear()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) downloadLocalHandler(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.backend.DownloadLocal(r.Context(), &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName("sensor_log", "csv", s.now())))
	io.Copy(w, &buf)
}

func (s *Server) downloadUSBHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.DownloadUSB(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) equipmentHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.equipment.Load()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no equipment data yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) equipmentStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.Stats()
	out := make(map[string]any, len(stats))
	for field, st := range stats {
		out[string(field)] = map[string]any{
			"stats":   st,
			"history": s.tracker.History(field),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) saveEngineHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP          string `json:"ip"`
		Speed       int    `json:"speed"`
		Load        int    `json:"load"`
		FuelRate    int    `json:"fuel_rate"`
		RunHour     int    `json:"run_hour"`
		OilPressure int    `json:"oil_pressure"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.IP) == "" {
		writeError(w, http.StatusBadRequest, "engine ip and registers are required")
		return
	}

	resp, err := s.backend.SaveEngine(r.Context(), backend.EngineConfig(body))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) savePowermeterHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP      string `json:"ip"`
		Current int    `json:"current"`
		Voltage int    `json:"voltage"`
		R       int    `json:"r"`
		Q       int    `json:"q"`
		S       int    `json:"s"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.IP) == "" {
		writeError(w, http.StatusBadRequest, "powermeter ip and registers are required")
		return
	}

	resp, err := s.backend.SavePowermeter(r.Context(), backend.PowermeterConfig(body))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func calibrationsJSON(cal models.Calibrations) map[string]models.Calibration {
	out := make(map[string]models.Calibration, len(cal))
	for ch, c := range cal {
		out[ch.Key()] = c
	}
	return out
}

func (s *Server) getCalibrationsHandler(w http.ResponseWriter, r *http.Request) {
	cal := s.pipelines[pipelineLive].Calibrations()
	writeJSON(w, http.StatusOK, map[string]any{
		"calibrations": calibrationsJSON(cal),
		"labels":       cal.DisplayNames(),
	})
}

func (s *Server) saveCalibrationsHandler(w http.ResponseWriter, r *http.Request) {
	var raw map[string]models.Calibration
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid calibrations payload")
		return
	}
	cal := models.ParseCalibrations(raw)
	if len(cal) == 0 {
		writeError(w, http.StatusBadRequest, "no known channels in payload")
		return
	}

	// Часть прошивок бэкенда принимает только /save-sensors
	resp, err := s.backend.SaveSensorsConfig(r.Context(), cal)
	var se *backend.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		resp, err = s.backend.SaveSensors(r.Context(), cal)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.refreshCalibrations(r.Context()); err != nil {
		s.log.Warn("saved calibrations but failed to reload them", "error", err)
		s.applyCalibrations(cal)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refreshCalibrationsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.refreshCalibrations(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.getCalibrationsHandler(w, r)
}

func (s *Server) getPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := s.prefs.Get(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) setPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	value, err := s.prefs.Set(r.Context(), key, body.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

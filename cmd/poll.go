package main

import (
	"context"
	"time"

	"sensor-dashboard/internal/backend"
	"sensor-dashboard/internal/models"
	"sensor-dashboard/internal/stream"
)

// pollData запрашивает строки под текущие настройки живой панели.
// Если настройки поменялись, пока запрос был в полёте, ответ отбрасывается.
func (s *Server) pollData(ctx context.Context) {
	live := s.pipelines[pipelineLive]
	settings := live.Settings()
	gen := live.BeginRequest()

	rows, err := s.backend.AllData(ctx, settings.TimeRange, settings.Interval)
	if err != nil {
		pollErrors.WithLabelValues("data").Inc()
		s.log.Warn("failed to fetch sensor data", "error", err)
		return
	}

	snap, applied, err := live.Apply(gen, rows)
	switch {
	case err != nil:
		pollErrors.WithLabelValues("data").Inc()
		s.log.Warn("rejected backend data", "error", err)
		return
	case !applied:
		staleResponses.Inc()
		return
	}

	s.publish(live, snap)

	latest, ok := snap.Latest()
	if !ok {
		return
	}
	s.checkAlert(s.monitor.CheckRow(latest))
}

func (s *Server) pollEquipment(ctx context.Context) {
	snap, err := s.backend.Equipment(ctx)
	if err != nil {
		pollErrors.WithLabelValues("equipment").Inc()
		s.log.Warn("failed to fetch equipment data", "error", err)
		return
	}
	s.equipment.Store(&snap)

	for _, st := range s.tracker.ObserveEquipment(snap) {
		rollingAverage.WithLabelValues(string(st.Field)).Set(st.RollingAverage)
	}

	s.hub.Broadcast(stream.TypeEquipment, snap)
	s.checkAlert(s.monitor.CheckEquipment(snap))
}

func (s *Server) checkAlert(alert models.Alert, raised bool) {
	if !raised {
		return
	}
	if alert.Updates == 0 {
		alertsRaised.Inc()
	}
	s.hub.Broadcast(stream.TypeAlert, alert)
}

// syncInterval подтягивает интервал, выставленный на бэкенде другим клиентом
func (s *Server) syncInterval(ctx context.Context) {
	secs, err := s.backend.Interval(ctx)
	if err != nil {
		pollErrors.WithLabelValues("interval").Inc()
		s.log.Warn("failed to sync poll interval", "error", err)
		return
	}
	if !backend.ValidInterval(secs) {
		s.log.Warn("backend reported invalid interval", "interval", secs)
		return
	}
	if time.Duration(secs)*time.Second == s.poller.Period() {
		return
	}
	s.applyInterval(secs)
}

func (s *Server) applyInterval(secs int) {
	if err := s.poller.SetPeriod(time.Duration(secs) * time.Second); err != nil {
		s.log.Error("failed to reschedule polling", "interval", secs, "error", err)
		return
	}
	pollInterval.Set(float64(secs))
	s.log.Info("poll interval changed", "interval", secs)
	s.hub.Broadcast(stream.TypeInterval, map[string]int{"secTimeInterval": secs})
}

func (s *Server) refreshCalibrations(ctx context.Context) error {
	cal, err := s.backend.Calibrations(ctx)
	if err != nil {
		return err
	}
	s.applyCalibrations(cal)
	return nil
}

// applyCalibrations меняет подписи каналов в обоих конвейерах и в тревогах
func (s *Server) applyCalibrations(cal models.Calibrations) {
	for _, o := range s.pipelines {
		o.SetCalibrations(cal)
	}
	s.monitor.SetChannelNames(cal.DisplayNames())
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"sensor-dashboard/internal/models"
)

const (
	MinInterval = 1
	MaxInterval = 3600
)

var (
	ErrInvalidInterval = errors.New("interval must be between 1 and 3600 seconds")
	ErrUploadRejected  = errors.New("backend rejected upload")
)

type intervalResponse struct {
	Status   string `json:"status,omitempty"`
	Interval int    `json:"secTimeInterval"`
}

type systemStateResponse struct {
	Running bool `json:"running"`
}

// UploadResponse - ответ POST /upload-csv
type UploadResponse struct {
	Status   string       `json:"status"`
	Message  string       `json:"message"`
	Data     []models.Row `json:"data"`
	FileName string       `json:"filename"`
}

type EngineConfig struct {
	IP          string
	Speed       int
	Load        int
	FuelRate    int
	RunHour     int
	OilPressure int
}

type PowermeterConfig struct {
	IP      string
	Current int
	Voltage int
	R       int
	Q       int
	S       int
}

func ValidInterval(seconds int) bool {
	return seconds >= MinInterval && seconds <= MaxInterval
}

// AllData запрашивает строки за диапазон, бэкенд уже прореживает их по интервалу
func (c *Client) AllData(ctx context.Context, tr models.TimeRange, interval int) ([]models.Row, error) {
	query := url.Values{}
	query.Set("range", string(tr))
	query.Set("interval", strconv.Itoa(interval))

	var rows []models.Row
	if err := c.get(ctx, "/api/all-data", query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Calibrations(ctx context.Context) (models.Calibrations, error) {
	var raw map[string]models.Calibration
	if err := c.get(ctx, "/load-sensors", nil, &raw); err != nil {
		return nil, err
	}
	return models.ParseCalibrations(raw), nil
}

func (c *Client) AllCalibrations(ctx context.Context) (models.Calibrations, error) {
	var raw map[string]models.Calibration
	if err := c.get(ctx, "/api/all-sensor-calibrations", nil, &raw); err != nil {
		return nil, err
	}
	return models.ParseCalibrations(raw), nil
}

func (c *Client) Interval(ctx context.Context) (int, error) {
	var resp intervalResponse
	if err := c.get(ctx, "/get-interval", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Interval, nil
}

func (c *Client) SetInterval(ctx context.Context, seconds int) (int, error) {
	if !ValidInterval(seconds) {
		return 0, ErrInvalidInterval
	}

	var resp intervalResponse
	if err := c.postJSON(ctx, "/set-interval", map[string]int{"interval": seconds}, &resp); err != nil {
		return 0, err
	}
	return resp.Interval, nil
}

func (c *Client) registers(ctx context.Context, path string) ([]models.RegisterSample, error) {
	var samples []models.RegisterSample
	if err := c.get(ctx, path, nil, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) EngineData(ctx context.Context) (models.EngineReading, error) {
	samples, err := c.registers(ctx, "/api/engine-data")
	if err != nil {
		return models.EngineReading{}, err
	}
	return models.EngineFromRegisters(samples), nil
}

func (c *Client) PowermeterData(ctx context.Context) (models.PowermeterReading, error) {
	samples, err := c.registers(ctx, "/api/powermeter-data")
	if err != nil {
		return models.PowermeterReading{}, err
	}
	return models.PowermeterFromRegisters(samples), nil
}

// Equipment опрашивает двигатель и счётчик одним снимком
func (c *Client) Equipment(ctx context.Context) (models.EquipmentSnapshot, error) {
	engine, err := c.EngineData(ctx)
	if err != nil {
		return models.EquipmentSnapshot{}, fmt.Errorf("engine data: %w", err)
	}
	pm, err := c.PowermeterData(ctx)
	if err != nil {
		return models.EquipmentSnapshot{}, fmt.Errorf("powermeter data: %w", err)
	}
	return models.EquipmentSnapshot{
		Timestamp:  time.Now(),
		Engine:     engine,
		Powermeter: pm,
	}, nil
}

func (c *Client) UploadCSV(ctx context.Context, fileName string, file io.Reader) (UploadResponse, error) {
	var resp UploadResponse
	if err := c.postMultipart(ctx, "/upload-csv", "csvFile", fileName, file, &resp); err != nil {
		return UploadResponse{}, err
	}
	// бэкенд сообщает об ошибке разбора в теле ответа с кодом 200
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "status " + strconv.Quote(resp.Status)
		}
		return UploadResponse{}, fmt.Errorf("%w: %s", ErrUploadRejected, msg)
	}
	return resp, nil
}

func (c *Client) Start(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.postJSON(ctx, "/start", nil, &resp)
	return resp, err
}

func (c *Client) Stop(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.postJSON(ctx, "/stop", nil, &resp)
	return resp, err
}

func (c *Client) SystemState(ctx context.Context) (bool, error) {
	var resp systemStateResponse
	if err := c.get(ctx, "/api/system-state", nil, &resp); err != nil {
		return false, err
	}
	return resp.Running, nil
}

func calibrationForm(cal models.Calibrations) url.Values {
	form := url.Values{}
	for _, ch := range models.AllChannels() {
		c, ok := cal[ch]
		if !ok {
			continue
		}
		prefix := "sensor" + strconv.Itoa(ch.Number()) + "_"
		if c.Enabled {
			form.Set(prefix+"enabled", "on")
		}
		form.Set(prefix+"name", c.Name)
		form.Set(prefix+"min", strconv.FormatFloat(c.Min, 'f', -1, 64))
		form.Set(prefix+"max", strconv.FormatFloat(c.Max, 'f', -1, 64))
		form.Set(prefix+"unit", c.Unit)
	}
	return form
}

func (c *Client) SaveSensors(ctx context.Context, cal models.Calibrations) (StatusResponse, error) {
	var resp StatusResponse
	err := c.postForm(ctx, "/save-sensors", calibrationForm(cal), &resp)
	return resp, err
}

func (c *Client) SaveSensorsConfig(ctx context.Context, cal models.Calibrations) (StatusResponse, error) {
	var resp StatusResponse
	err := c.postForm(ctx, "/save-sensors-config", calibrationForm(cal), &resp)
	return resp, err
}

func (c *Client) SaveEngine(ctx context.Context, cfg EngineConfig) (StatusResponse, error) {
	form := url.Values{}
	form.Set("e_ip", cfg.IP)
	form.Set("e_speed", strconv.Itoa(cfg.Speed))
	form.Set("e_load", strconv.Itoa(cfg.Load))
	form.Set("e_fuelrate", strconv.Itoa(cfg.FuelRate))
	form.Set("e_runhour", strconv.Itoa(cfg.RunHour))
	form.Set("e_oilpressure", strconv.Itoa(cfg.OilPressure))

	var resp StatusResponse
	err := c.postForm(ctx, "/save-engine", form, &resp)
	return resp, err
}

func (c *Client) SavePowermeter(ctx context.Context, cfg PowermeterConfig) (StatusResponse, error) {
	form := url.Values{}
	form.Set("pm_ip", cfg.IP)
	form.Set("pm_current", strconv.Itoa(cfg.Current))
	form.Set("pm_voltage", strconv.Itoa(cfg.Voltage))
	form.Set("pm_r", strconv.Itoa(cfg.R))
	form.Set("pm_q", strconv.Itoa(cfg.Q))
	form.Set("pm_s", strconv.Itoa(cfg.S))

	var resp StatusResponse
	err := c.postForm(ctx, "/save-powermeter", form, &resp)
	return resp, err
}

func (c *Client) ClearLog(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.postJSON(ctx, "/clear-log", nil, &resp)
	return resp, err
}

// DownloadLocal копирует CSV журнала бэкенда в w
func (c *Client) DownloadLocal(ctx context.Context, w io.Writer) error {
	return c.get(ctx, "/download/local", nil, w)
}

func (c *Client) DownloadUSB(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.get(ctx, "/download/usb", nil, &resp)
	return resp, err
}

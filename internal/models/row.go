package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Reading - значение канала. Valid=false означает отсутствующее значение,
// которое не равно нулю.
type Reading struct {
	Value float64
	Valid bool
}

func Present(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// OrZero используется графиками и экспортом: пропуск рисуется как 0.
func (r Reading) OrZero() float64 {
	if !r.Valid {
		return 0
	}
	return r.Value
}

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	*r = Reading{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*r = Present(v)
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		// Нечисловое значение считаем пропуском, а не ошибкой всей строки
		return nil
	}
	*r = Present(v)
	return nil
}

type Row struct {
	ID         int64
	Date       string
	Time       string
	Channels   [NumChannels]Reading
	Engine     *EngineReading
	Powermeter *PowermeterReading

	// Timestamp заполняется при загрузке из Date и Time
	Timestamp time.Time
}

func (r Row) Value(ch Channel) Reading {
	if !ch.Valid() {
		return Reading{}
	}
	return r.Channels[ch]
}

type rowJSON struct {
	ID         int64              `json:"id"`
	Date       string             `json:"date"`
	Time       string             `json:"time"`
	Ch1        Reading            `json:"ch1"`
	Ch2        Reading            `json:"ch2"`
	Ch3        Reading            `json:"ch3"`
	Ch4        Reading            `json:"ch4"`
	Ch5        Reading            `json:"ch5"`
	Ch6        Reading            `json:"ch6"`
	Ch7        Reading            `json:"ch7"`
	Engine     *EngineReading     `json:"engine,omitempty"`
	Powermeter *PowermeterReading `json:"powermeter,omitempty"`
}

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{
		ID:         r.ID,
		Date:       r.Date,
		Time:       r.Time,
		Ch1:        r.Channels[Ch1],
		Ch2:        r.Channels[Ch2],
		Ch3:        r.Channels[Ch3],
		Ch4:        r.Channels[Ch4],
		Ch5:        r.Channels[Ch5],
		Ch6:        r.Channels[Ch6],
		Ch7:        r.Channels[Ch7],
		Engine:     r.Engine,
		Powermeter: r.Powermeter,
	})
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var raw rowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Row{
		ID:         raw.ID,
		Date:       raw.Date,
		Time:       raw.Time,
		Channels:   [NumChannels]Reading{raw.Ch1, raw.Ch2, raw.Ch3, raw.Ch4, raw.Ch5, raw.Ch6, raw.Ch7},
		Engine:     raw.Engine,
		Powermeter: raw.Powermeter,
	}
	return nil
}

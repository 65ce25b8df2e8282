package models

import (
	"fmt"
	"strconv"
	"strings"
)

type Calibration struct {
	Name    string  `json:"name"`
	Unit    string  `json:"unit"`
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type Calibrations map[Channel]Calibration

// ParseCalibrations принимает ключи вида "sensor3" (/load-sensors)
// и "ch3" (/api/all-sensor-calibrations). Неизвестные ключи пропускаются.
func ParseCalibrations(raw map[string]Calibration) Calibrations {
	out := make(Calibrations, len(raw))
	for key, cal := range raw {
		k := strings.ToLower(key)
		k = strings.TrimPrefix(k, "sensor")
		ch, err := ParseChannel(k)
		if err != nil {
			continue
		}
		out[ch] = cal
	}
	return out
}

// DisplayName: "name (unit)" либо "CH<n>"
func (c Calibrations) DisplayName(ch Channel) string {
	cal, ok := c[ch]
	if !ok {
		return "CH" + strconv.Itoa(ch.Number())
	}

	name := cal.Name
	if name == "" {
		name = "CH" + strconv.Itoa(ch.Number())
	}
	if cal.Unit != "" {
		name = fmt.Sprintf("%s (%s)", name, cal.Unit)
	}
	return name
}

func (c Calibrations) Enabled(ch Channel) bool {
	cal, ok := c[ch]
	if !ok {
		return true
	}
	return cal.Enabled
}

func (c Calibrations) DisplayNames() [NumChannels]string {
	var names [NumChannels]string
	for _, ch := range AllChannels() {
		names[ch] = c.DisplayName(ch)
	}
	return names
}

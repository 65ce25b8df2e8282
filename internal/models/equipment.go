package models

import "time"

// RegisterSample - элемент ответа /api/engine-data и /api/powermeter-data
type RegisterSample struct {
	ID       int     `json:"id"`
	Register int     `json:"register"`
	Value    float64 `json:"value"`
}

type EngineReading struct {
	Speed       float64 `json:"speed"`
	Load        float64 `json:"load"`
	FuelRate    float64 `json:"fuelrate"`
	RunHour     float64 `json:"runhour"`
	OilPressure float64 `json:"oilpressure"`
}

type PowermeterReading struct {
	Current float64 `json:"current"`
	Voltage float64 `json:"voltage"`
	R       float64 `json:"r"`
	Q       float64 `json:"q"`
	S       float64 `json:"s"`
}

func registerValue(samples []RegisterSample, i int) float64 {
	if i < len(samples) {
		return samples[i].Value
	}
	return 0
}

// EngineFromRegisters раскладывает ответ по позициям:
// speed, load, fuelrate, runhour, oilpressure.
func EngineFromRegisters(samples []RegisterSample) EngineReading {
	return EngineReading{
		Speed:       registerValue(samples, 0),
		Load:        registerValue(samples, 1),
		FuelRate:    registerValue(samples, 2),
		RunHour:     registerValue(samples, 3),
		OilPressure: registerValue(samples, 4),
	}
}

// PowermeterFromRegisters: current, voltage, r, q, s.
func PowermeterFromRegisters(samples []RegisterSample) PowermeterReading {
	return PowermeterReading{
		Current: registerValue(samples, 0),
		Voltage: registerValue(samples, 1),
		R:       registerValue(samples, 2),
		Q:       registerValue(samples, 3),
		S:       registerValue(samples, 4),
	}
}

type Field string

const (
	FieldPMVoltage     Field = "pm_voltage"
	FieldPMCurrent     Field = "pm_current"
	FieldPMR           Field = "pm_r"
	FieldPMQ           Field = "pm_q"
	FieldPMS           Field = "pm_s"
	FieldEngineSpeed   Field = "e_speed"
	FieldEngineLoad    Field = "e_load"
	FieldEngineFuel    Field = "e_fuelrate"
	FieldEngineRunHour Field = "e_runhour"
	FieldEngineOil     Field = "e_oilpressure"
)

var fieldNames = map[Field]string{
	FieldPMVoltage:     "Powermeter Voltage",
	FieldPMCurrent:     "Powermeter Current",
	FieldPMR:           "Powermeter R",
	FieldPMQ:           "Powermeter Q",
	FieldPMS:           "Powermeter S",
	FieldEngineSpeed:   "Engine Speed",
	FieldEngineLoad:    "Engine Load",
	FieldEngineFuel:    "Engine Fuel Rate",
	FieldEngineRunHour: "Engine Run Hours",
	FieldEngineOil:     "Engine Oil Pressure",
}

func (f Field) DisplayName() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return string(f)
}

type FieldValue struct {
	Field Field
	Value float64
}

// Fields в порядке приоритета проверки порогов
func (p PowermeterReading) Fields() []FieldValue {
	return []FieldValue{
		{FieldPMVoltage, p.Voltage},
		{FieldPMCurrent, p.Current},
		{FieldPMR, p.R},
		{FieldPMQ, p.Q},
		{FieldPMS, p.S},
	}
}

func (e EngineReading) Fields() []FieldValue {
	return []FieldValue{
		{FieldEngineSpeed, e.Speed},
		{FieldEngineLoad, e.Load},
		{FieldEngineFuel, e.FuelRate},
		{FieldEngineRunHour, e.RunHour},
		{FieldEngineOil, e.OilPressure},
	}
}

// EquipmentSnapshot - последний опрос двигателя и счётчика
type EquipmentSnapshot struct {
	Timestamp  time.Time         `json:"timestamp"`
	Engine     EngineReading     `json:"engine"`
	Powermeter PowermeterReading `json:"powermeter"`
}

package threshold

import (
	"testing"
	"time"

	"sensor-dashboard/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newMonitor(overrides Limits) *Monitor {
	m := NewMonitor(overrides, nil)
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestIdleWithoutBreach(t *testing.T) {
	m := newMonitor(nil)

	var row models.Row
	row.Channels[models.Ch1] = models.Present(1000)
	row.Channels[models.Ch7] = models.Present(200)

	_, raised := m.CheckRow(row)
	require.False(t, raised)
	require.Equal(t, StateIdle, m.State())
}

func TestFirstMatchByPriority(t *testing.T) {
	m := newMonitor(nil)

	var row models.Row
	row.Channels[models.Ch2] = models.Present(5000)
	row.Channels[models.Ch7] = models.Present(201)
	row.Engine = &models.EngineReading{Load: 150, Speed: 2500}

	alert, raised := m.CheckRow(row)
	require.True(t, raised)
	require.Equal(t, "e_speed", alert.Key)
	require.Equal(t, "Engine Speed", alert.Sensor)
	require.Equal(t, 2500.0, alert.Value)
	require.Equal(t, 2000.0, alert.Threshold)
	require.Equal(t, StateAlerting, m.State())
}

func TestPowermeterBeforeEngine(t *testing.T) {
	m := newMonitor(nil)

	alert, raised := m.CheckEquipment(models.EquipmentSnapshot{
		Engine:     models.EngineReading{Speed: 9000},
		Powermeter: models.PowermeterReading{Current: 120, Voltage: 240},
	})
	require.True(t, raised)
	require.Equal(t, "pm_voltage", alert.Key)
}

func TestChannelsInOrderAndMissingSkipped(t *testing.T) {
	m := newMonitor(nil)
	m.SetChannelNames([models.NumChannels]string{"Pressure (bar)", "CH2", "CH3", "CH4", "CH5", "CH6", "Temp (C)"})

	var row models.Row
	row.Channels[models.Ch3] = models.Reading{Value: 99999}
	row.Channels[models.Ch7] = models.Present(250)

	alert, raised := m.CheckRow(row)
	require.True(t, raised)
	require.Equal(t, "ch7", alert.Key)
	require.Equal(t, "Temp (C)", alert.Sensor)
}

func TestOverwriteKeepsSingleAlert(t *testing.T) {
	m := newMonitor(nil)

	var first models.Row
	first.Channels[models.Ch1] = models.Present(1500)
	a1, _ := m.CheckRow(first)

	var second models.Row
	second.Channels[models.Ch4] = models.Present(1200)
	a2, raised := m.CheckRow(second)
	require.True(t, raised)

	require.Equal(t, a1.ID, a2.ID)
	require.Equal(t, "ch4", a2.Key)
	require.Equal(t, 1200.0, a2.Value)
	require.Equal(t, 1, a2.Updates)

	// строка без превышения не снимает предупреждение
	m.CheckRow(models.Row{})
	active, ok := m.Active()
	require.True(t, ok)
	require.Equal(t, "ch4", active.Key)
}

func TestAcknowledge(t *testing.T) {
	m := newMonitor(nil)
	require.ErrorIs(t, m.Acknowledge(uuid.New()), ErrNoActiveAlert)

	var row models.Row
	row.Channels[models.Ch1] = models.Present(2000)
	alert, _ := m.CheckRow(row)

	require.ErrorIs(t, m.Acknowledge(uuid.New()), ErrAlertMismatch)
	require.Equal(t, StateAlerting, m.State())

	require.NoError(t, m.Acknowledge(alert.ID))
	require.Equal(t, StateIdle, m.State())

	// после снятия новое превышение - новое предупреждение
	next, _ := m.CheckRow(row)
	require.NotEqual(t, alert.ID, next.ID)
	require.True(t, m.Dismiss())
	require.False(t, m.Dismiss())
}

func TestOverrides(t *testing.T) {
	m := newMonitor(Limits{"ch1": 10})
	require.Equal(t, 10.0, m.Limits()["ch1"])
	require.Equal(t, 200.0, m.Limits()["ch7"])

	var row models.Row
	row.Channels[models.Ch1] = models.Present(11)
	_, raised := m.CheckRow(row)
	require.True(t, raised)
}

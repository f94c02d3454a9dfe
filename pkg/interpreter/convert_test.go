package interpreter

import (
	"os"
	"testing"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIdentity = "4B384547303034303436333935353037"

func sampleTelegram(t *testing.T) *dsmr.Telegram {
	t.Helper()
	raw, err := os.ReadFile("testdata/dsmr5.txt")
	require.NoError(t, err)
	tg, err := dsmr.Parse(string(raw))
	require.NoError(t, err)
	return tg
}

func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	origNow := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = origNow })
}

func TestInterpretTelegram_Sample(t *testing.T) {
	r := InterpretTelegram(sampleIdentity, sampleTelegram(t))

	assert.Equal(t, time.Date(2010, 12, 9, 10, 30, 20, 0, time.UTC).Unix(), r.Timestamp)
	assert.Equal(t, "K8EG004046395507", r.Serial)
	assert.Equal(t, "0002", r.Tariff)

	require.NotNil(t, r.EnergyForwardKWh)
	assert.Equal(t, 246913.578, *r.EnergyForwardKWh)
	require.NotNil(t, r.EnergyReverseKWh)
	assert.Equal(t, 246913.578, *r.EnergyReverseKWh)

	phases := r.Phases()
	voltages := []float64{220.1, 220.2, 220.3}
	for i, phase := range phases {
		require.NotNil(t, phase, "L%d", i+1)
		assert.Equal(t, -3333.0, phase.PowerW, "L%d", i+1)
		require.NotNil(t, phase.VoltageV)
		assert.Equal(t, voltages[i], *phase.VoltageV)
		require.NotNil(t, phase.CurrentA)
		assert.InDelta(t, -3333.0/voltages[i], *phase.CurrentA, 0.001)
	}
	assert.Equal(t, -9999.0, r.PowerW)

	require.NotNil(t, r.GasM3)
	assert.Equal(t, 12785.123, *r.GasM3)
}

func TestInterpretTelegram_SinglePhaseFallsBackToTotals(t *testing.T) {
	tg, err := dsmr.Parse("/KFM5KAIFA-METER\r\n\r\n" +
		"1-0:1.8.1(000100.000*kWh)\r\n" +
		"1-0:1.7.0(00.450*kW)\r\n" +
		"1-0:2.7.0(00.050*kW)\r\n" +
		"!\r\n")
	require.NoError(t, err)
	fixedNow(t, time.Unix(1700000000, 0))

	r := InterpretTelegram("", tg)
	assert.Equal(t, int64(1700000000), r.Timestamp, "no meter timestamp uses the local clock")
	assert.Empty(t, r.Serial)
	assert.Nil(t, r.L1)
	assert.Nil(t, r.L2)
	assert.Nil(t, r.L3)
	assert.Equal(t, 400.0, r.PowerW)

	// only the present tariff band is summed
	require.NotNil(t, r.EnergyForwardKWh)
	assert.Equal(t, 100.0, *r.EnergyForwardKWh)
	assert.Nil(t, r.EnergyReverseKWh)
	assert.Nil(t, r.GasM3)
}

func TestInterpretTelegram_NoVoltageNoCurrent(t *testing.T) {
	tg, err := dsmr.Parse("/KFM5KAIFA-METER\r\n\r\n" +
		"1-0:21.7.0(00.500*kW)\r\n" +
		"1-0:32.7.0(000.0*V)\r\n" +
		"1-0:41.7.0(00.250*kW)\r\n" +
		"!\r\n")
	require.NoError(t, err)

	r := InterpretTelegram("", tg)
	require.NotNil(t, r.L1)
	assert.Equal(t, 500.0, r.L1.PowerW)
	require.NotNil(t, r.L1.VoltageV)
	assert.Nil(t, r.L1.CurrentA, "zero volts gives no current")

	require.NotNil(t, r.L2)
	assert.Nil(t, r.L2.VoltageV)
	assert.Nil(t, r.L2.CurrentA)

	assert.Nil(t, r.L3)
	assert.Equal(t, 750.0, r.PowerW)
}

func TestParseTimestamp(t *testing.T) {
	winter, err := ParseTimestamp("101209113020W")
	require.NoError(t, err)
	assert.True(t, winter.Equal(time.Date(2010, 12, 9, 10, 30, 20, 0, time.UTC)))

	summer, err := ParseTimestamp("230701120000S")
	require.NoError(t, err)
	assert.True(t, summer.Equal(time.Date(2023, 7, 1, 10, 0, 0, 0, time.UTC)))

	for _, bad := range []string{"", "101209113020", "101209113020X", "1012091130ABW"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewRegistration(t *testing.T) {
	fixedNow(t, time.Unix(1700000000, 0))

	reg := NewRegistration(sampleIdentity, 10)
	assert.Equal(t, &Registration{
		Timestamp:      1700000000,
		Identity:       sampleIdentity,
		Serial:         "K8EG004046395507",
		ProductName:    "Smart Meter P1 Reader",
		DeviceInstance: 10,
		Role:           "grid",
	}, reg)
}

func TestMessageJson(t *testing.T) {
	reading := InterpretTelegram(sampleIdentity, sampleTelegram(t))
	data := NewReadingMessage(reading).ToJsonBytes()
	assert.Contains(t, string(data), `"type":"reading"`)
	assert.Contains(t, string(data), `"serial":"K8EG004046395507"`)

	msg := MessageFromJsonBytes(data)
	require.NotNil(t, msg)
	assert.Equal(t, reading, msg.Reading)
	assert.Nil(t, msg.Registration)

	reg := MessageFromJsonBytes(NewRegistrationMessage(NewRegistration(sampleIdentity, 3)).ToJsonBytes())
	require.NotNil(t, reg)
	assert.Equal(t, MessageTypeRegistration, reg.Type)
	assert.Equal(t, 3, reg.Registration.DeviceInstance)
}

func TestParseMessage_Rejects(t *testing.T) {
	for _, bad := range []string{
		`not json`,
		`{"type":"other"}`,
		`{"type":"reading"}`,
		`{"type":"registration"}`,
	} {
		_, err := ParseMessage([]byte(bad))
		assert.Error(t, err, bad)
		assert.Nil(t, MessageFromJsonBytes([]byte(bad)))
	}
}

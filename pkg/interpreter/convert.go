package interpreter

import (
	"fmt"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
	"github.com/NotCoffee418/p1_gridmeter/pkg/meterutils"
)

const (
	ProductName = "Smart Meter P1 Reader"
	RoleGrid    = "grid"
)

var now = time.Now

var phaseObjects = [3]struct {
	positive, negative, voltage dsmr.ObjectID
}{
	{dsmr.ActivePowerL1Positive, dsmr.ActivePowerL1Negative, dsmr.VoltageL1},
	{dsmr.ActivePowerL2Positive, dsmr.ActivePowerL2Negative, dsmr.VoltageL2},
	{dsmr.ActivePowerL3Positive, dsmr.ActivePowerL3Negative, dsmr.VoltageL3},
}

// InterpretTelegram derives the grid signals from t. Fields the meter does
// not report are left out rather than zeroed.
func InterpretTelegram(identity string, t *dsmr.Telegram) *GridReading {
	reading := &GridReading{
		Timestamp: telegramTime(t).Unix(),
		Serial:    dsmr.DecodeHexText(identity),
	}
	if tariff, ok := t.Text(dsmr.TariffIndicator); ok {
		reading.Tariff = tariff
	}

	reading.EnergyForwardKWh = sumRegisters(t, dsmr.ElectricityUsedTariff1, dsmr.ElectricityUsedTariff2)
	reading.EnergyReverseKWh = sumRegisters(t, dsmr.ElectricityDeliveredTariff1, dsmr.ElectricityDeliveredTariff2)

	var phases [3]*PhaseReading
	hasPhases := false
	for i, ids := range phaseObjects {
		phases[i] = interpretPhase(t, ids.positive, ids.negative, ids.voltage)
		if phases[i] == nil {
			continue
		}
		reading.PowerW += phases[i].PowerW
		hasPhases = true
	}
	reading.L1, reading.L2, reading.L3 = phases[0], phases[1], phases[2]
	reading.PowerW = meterutils.Round3(reading.PowerW)

	// Single phase meters only report the totals
	if !hasPhases {
		usage, _ := t.Float(dsmr.ElectricityUsage)
		delivery, _ := t.Float(dsmr.ElectricityDelivery)
		reading.PowerW = meterutils.KwToW(usage - delivery)
	}

	if gas, ok := t.Float(dsmr.GasDelivered); ok {
		reading.GasM3 = &gas
	}
	return reading
}

func interpretPhase(t *dsmr.Telegram, positiveID, negativeID, voltageID dsmr.ObjectID) *PhaseReading {
	positive, hasPositive := t.Float(positiveID)
	negative, hasNegative := t.Float(negativeID)
	if !hasPositive && !hasNegative {
		return nil
	}

	phase := &PhaseReading{PowerW: meterutils.KwToW(positive - negative)}
	if voltage, ok := t.Float(voltageID); ok {
		phase.VoltageV = &voltage
		if voltage > 0 {
			current := meterutils.Round3(phase.PowerW / voltage)
			phase.CurrentA = &current
		}
	}
	return phase
}

// sumRegisters adds the tariff registers that are present, nil when none are.
func sumRegisters(t *dsmr.Telegram, ids ...dsmr.ObjectID) *float64 {
	var total float64
	found := false
	for _, id := range ids {
		if v, ok := t.Float(id); ok {
			total += v
			found = true
		}
	}
	if !found {
		return nil
	}
	total = meterutils.Round3(total)
	return &total
}

func telegramTime(t *dsmr.Telegram) time.Time {
	if raw, ok := t.Text(dsmr.P1MessageTimestamp); ok {
		if ts, err := ParseTimestamp(raw); err == nil {
			return ts
		}
	}
	return now()
}

var (
	winterTime = time.FixedZone("CET", 60*60)
	summerTime = time.FixedZone("CEST", 2*60*60)
)

// ParseTimestamp reads a YYMMDDhhmmssX meter timestamp, where X is W for
// winter time or S for summer time.
func ParseTimestamp(raw string) (time.Time, error) {
	if len(raw) != 13 {
		return time.Time{}, fmt.Errorf("timestamp %q: expected 13 characters", raw)
	}

	var zone *time.Location
	switch raw[12] {
	case 'W', 'w':
		zone = winterTime
	case 'S', 's':
		zone = summerTime
	default:
		return time.Time{}, fmt.Errorf("timestamp %q: unknown season %q", raw, raw[12])
	}
	return time.ParseInLocation("060102150405", raw[:12], zone)
}

// NewRegistration describes the device behind identity.
func NewRegistration(identity string, deviceInstance int) *Registration {
	return &Registration{
		Timestamp:      now().Unix(),
		Identity:       identity,
		Serial:         dsmr.DecodeHexText(identity),
		ProductName:    ProductName,
		DeviceInstance: deviceInstance,
		Role:           RoleGrid,
	}
}

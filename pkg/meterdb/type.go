package meterdb

import (
	"github.com/NotCoffee418/p1_gridmeter/pkg/interpreter"
	"github.com/NotCoffee418/p1_gridmeter/pkg/meterutils"
)

// GridReading is one stored telegram. Registers the meter did not report
// are NULL.
type GridReading struct {
	Timestamp int64    `db:"timestamp"`
	Serial    string   `db:"serial"`
	Tariff    string   `db:"tariff"`
	ForwardWh *int64   `db:"forward_wh"`
	ReverseWh *int64   `db:"reverse_wh"`
	PowerW    float64  `db:"power_w"`
	L1PowerW  *float64 `db:"l1_power_w"`
	L2PowerW  *float64 `db:"l2_power_w"`
	L3PowerW  *float64 `db:"l3_power_w"`
	GasDM3    *int64   `db:"gas_dm3"`
}

type DeviceRegistration struct {
	Timestamp      int64  `db:"timestamp"`
	Identity       string `db:"identity"`
	Serial         string `db:"serial"`
	DeviceInstance int    `db:"device_instance"`
}

// Aggregate models - computed per completed hour
type AggregateGridPowerHourly struct {
	HourStart   int64   `db:"hour_start"`
	AvgPowerW   float64 `db:"avg_power_w"`
	MinPowerW   float64 `db:"min_power_w"`
	MaxPowerW   float64 `db:"max_power_w"`
	ForwardWh   int64   `db:"forward_wh"`
	ReverseWh   int64   `db:"reverse_wh"`
	SampleCount uint32  `db:"sample_count"`
}

// NewGridReading converts a reading received from the interpreter API.
func NewGridReading(r *interpreter.GridReading) *GridReading {
	row := &GridReading{
		Timestamp: r.Timestamp,
		Serial:    r.Serial,
		Tariff:    r.Tariff,
		PowerW:    r.PowerW,
	}
	if r.EnergyForwardKWh != nil {
		wh := meterutils.KWhToWh(*r.EnergyForwardKWh)
		row.ForwardWh = &wh
	}
	if r.EnergyReverseKWh != nil {
		wh := meterutils.KWhToWh(*r.EnergyReverseKWh)
		row.ReverseWh = &wh
	}
	if r.GasM3 != nil {
		dm3 := meterutils.M3ToDM3(*r.GasM3)
		row.GasDM3 = &dm3
	}

	row.L1PowerW = phasePower(r.L1)
	row.L2PowerW = phasePower(r.L2)
	row.L3PowerW = phasePower(r.L3)
	return row
}

func phasePower(p *interpreter.PhaseReading) *float64 {
	if p == nil {
		return nil
	}
	power := p.PowerW
	return &power
}

func NewDeviceRegistration(r *interpreter.Registration) *DeviceRegistration {
	return &DeviceRegistration{
		Timestamp:      r.Timestamp,
		Identity:       r.Identity,
		Serial:         r.Serial,
		DeviceInstance: r.DeviceInstance,
	}
}

package meterdb

import (
	"database/sql"
	"errors"
)

const gridReadingColumns = "timestamp, serial, tariff, forward_wh, reverse_wh, power_w, l1_power_w, l2_power_w, l3_power_w, gas_dm3"

func InsertGridReading(db *sql.DB, reading *GridReading) error {
	_, err := db.Exec(
		"INSERT INTO grid_readings ("+gridReadingColumns+") "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		reading.Timestamp,
		reading.Serial,
		reading.Tariff,
		reading.ForwardWh,
		reading.ReverseWh,
		reading.PowerW,
		reading.L1PowerW,
		reading.L2PowerW,
		reading.L3PowerW,
		reading.GasDM3,
	)
	return err
}

func InsertDeviceRegistration(db *sql.DB, reg *DeviceRegistration) error {
	_, err := db.Exec(
		"INSERT INTO device_registrations (timestamp, identity, serial, device_instance) "+
			"VALUES (?, ?, ?, ?)",
		reg.Timestamp,
		reg.Identity,
		reg.Serial,
		reg.DeviceInstance,
	)
	return err
}

// GetLatestGridReading returns nil when nothing is stored yet.
func GetLatestGridReading(db *sql.DB) (*GridReading, error) {
	var r GridReading
	err := db.QueryRow(
		"SELECT "+gridReadingColumns+" FROM grid_readings ORDER BY timestamp DESC LIMIT 1",
	).Scan(
		&r.Timestamp,
		&r.Serial,
		&r.Tariff,
		&r.ForwardWh,
		&r.ReverseWh,
		&r.PowerW,
		&r.L1PowerW,
		&r.L2PowerW,
		&r.L3PowerW,
		&r.GasDM3,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetLatestDeviceRegistration returns nil when no meter was announced yet.
func GetLatestDeviceRegistration(db *sql.DB) (*DeviceRegistration, error) {
	var r DeviceRegistration
	err := db.QueryRow(
		"SELECT timestamp, identity, serial, device_instance FROM device_registrations " +
			"ORDER BY timestamp DESC, rowid DESC LIMIT 1",
	).Scan(&r.Timestamp, &r.Identity, &r.Serial, &r.DeviceInstance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetHourlyAggregates returns the aggregates with from <= hour_start <= to.
func GetHourlyAggregates(db *sql.DB, from, to int64) ([]AggregateGridPowerHourly, error) {
	rows, err := db.Query(
		"SELECT hour_start, avg_power_w, min_power_w, max_power_w, forward_wh, reverse_wh, sample_count "+
			"FROM aggregate_grid_power_hourly WHERE hour_start >= ? AND hour_start <= ? ORDER BY hour_start",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []AggregateGridPowerHourly
	for rows.Next() {
		var a AggregateGridPowerHourly
		if err := rows.Scan(&a.HourStart, &a.AvgPowerW, &a.MinPowerW, &a.MaxPowerW, &a.ForwardWh, &a.ReverseWh, &a.SampleCount); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}
	return aggregates, rows.Err()
}

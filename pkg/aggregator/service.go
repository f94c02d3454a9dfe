package aggregator

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/logging"
)

// maxCatchUpHours bounds how many missed hours one run aggregates.
const maxCatchUpHours = 24 * 7

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return hourStart + 3600 - 1
}

// aggregateGridPowerHourly aggregates grid readings for a specific hour
func aggregateGridPowerHourly(db *sql.DB, hourStart int64) error {
	hourEnd := getHourEnd(hourStart)

	query := `
		SELECT
			COUNT(*),
			AVG(power_w),
			MIN(power_w),
			MAX(power_w),
			MIN(forward_wh),
			MAX(forward_wh),
			MIN(reverse_wh),
			MAX(reverse_wh)
		FROM grid_readings
		WHERE timestamp >= ? AND timestamp <= ?
	`

	var (
		count                  uint32
		avgW, minW, maxW       sql.NullFloat64
		minForward, maxForward sql.NullInt64
		minReverse, maxReverse sql.NullInt64
	)
	err := db.QueryRow(query, hourStart, hourEnd).Scan(
		&count, &avgW, &minW, &maxW, &minForward, &maxForward, &minReverse, &maxReverse,
	)
	if err != nil {
		return err
	}

	// Only insert if we have data
	if count == 0 {
		return nil
	}

	// Energy is the register delta within the hour
	forwardWh := maxForward.Int64 - minForward.Int64
	reverseWh := maxReverse.Int64 - minReverse.Int64

	insertQuery := `
		INSERT OR REPLACE INTO aggregate_grid_power_hourly
		(hour_start, avg_power_w, min_power_w, max_power_w, forward_wh, reverse_wh, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.Exec(insertQuery, hourStart, avgW.Float64, minW.Float64, maxW.Float64, forwardWh, reverseWh, count)
	return err
}

// pendingHours lists the completed hours that still need aggregating,
// starting after the last aggregate or at the first reading.
func pendingHours(db *sql.DB, now time.Time) ([]int64, error) {
	previousHour := roundToHourStart(now) - 3600

	var lastAggregate, firstReading sql.NullInt64
	if err := db.QueryRow("SELECT MAX(hour_start) FROM aggregate_grid_power_hourly").Scan(&lastAggregate); err != nil {
		return nil, err
	}
	if err := db.QueryRow("SELECT MIN(timestamp) FROM grid_readings").Scan(&firstReading); err != nil {
		return nil, err
	}

	var start int64
	switch {
	case lastAggregate.Valid:
		// The last aggregated hour may have been partial
		start = lastAggregate.Int64
	case firstReading.Valid:
		start = roundToHourStart(time.Unix(firstReading.Int64, 0))
	default:
		return nil, nil
	}

	if earliest := previousHour - (maxCatchUpHours-1)*3600; start < earliest {
		start = earliest
	}

	var hours []int64
	for hour := start; hour <= previousHour; hour += 3600 {
		hours = append(hours, hour)
	}
	return hours, nil
}

// cleanupOldData removes readings older than the retention window if we have aggregated past it
func cleanupOldData(db *sql.DB, now time.Time, retention time.Duration) error {
	cutoff := now.UTC().Add(-retention)
	cutoffTimestamp := cutoff.Unix()

	var lastAggregateHour sql.NullInt64
	if err := db.QueryRow("SELECT MAX(hour_start) FROM aggregate_grid_power_hourly").Scan(&lastAggregateHour); err != nil {
		return err
	}

	// Only clean up if we have aggregated data up to the cutoff point
	if !lastAggregateHour.Valid || lastAggregateHour.Int64 < cutoffTimestamp {
		return nil
	}

	result, err := db.Exec("DELETE FROM grid_readings WHERE timestamp < ?", cutoffTimestamp)
	if err != nil {
		return err
	}

	if removed, err := result.RowsAffected(); err == nil && removed > 0 {
		logger := logging.Component("aggregator")
		logger.Info().
			Int64("rows", removed).
			Msgf("Cleaned up readings older than %s", cutoff.Format(time.RFC3339))
	}
	return nil
}

// AggregateAndCleanup aggregates every completed hour not yet aggregated
// and removes raw readings older than retention.
// This is the main function to call for data aggregation
func AggregateAndCleanup(db *sql.DB, now time.Time, retention time.Duration) error {
	logger := logging.Component("aggregator")

	hours, err := pendingHours(db, now)
	if err != nil {
		return fmt.Errorf("failed to find pending hours: %w", err)
	}

	for _, hourStart := range hours {
		logger.Debug().Msgf("Aggregating data for hour starting at %s", time.Unix(hourStart, 0).UTC().Format(time.RFC3339))
		if err := aggregateGridPowerHourly(db, hourStart); err != nil {
			return fmt.Errorf("failed to aggregate hour %d: %w", hourStart, err)
		}
	}

	if err := cleanupOldData(db, now, retention); err != nil {
		return fmt.Errorf("failed to clean up old data: %w", err)
	}

	logger.Debug().Int("hours", len(hours)).Msg("Aggregation and cleanup completed successfully")
	return nil
}

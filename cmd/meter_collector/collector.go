package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/aggregator"
	"github.com/NotCoffee418/p1_gridmeter/pkg/interpreter"
	"github.com/NotCoffee418/p1_gridmeter/pkg/meterdb"
	"github.com/rs/zerolog"
)

const aggregateInterval = 10 * time.Minute

type collector struct {
	db     *sql.DB
	logger zerolog.Logger
}

// handleMessage stores one message from the interpreter API.
func (c *collector) handleMessage(msg *interpreter.Message) {
	switch msg.Type {
	case interpreter.MessageTypeRegistration:
		reg := meterdb.NewDeviceRegistration(msg.Registration)
		if err := meterdb.InsertDeviceRegistration(c.db, reg); err != nil {
			c.logger.Error().Err(err).Msg("Failed to store device registration")
			return
		}
		c.logger.Info().Str("serial", reg.Serial).Msg("Meter registered")
	case interpreter.MessageTypeReading:
		if err := meterdb.InsertGridReading(c.db, meterdb.NewGridReading(msg.Reading)); err != nil {
			c.logger.Error().Err(err).Msg("Failed to store grid reading")
		}
	}
}

// aggregateLoop aggregates on start and then every interval until ctx is done.
func (c *collector) aggregateLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := aggregator.AggregateAndCleanup(c.db, time.Now(), retention); err != nil {
			c.logger.Error().Err(err).Msg("Aggregation failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

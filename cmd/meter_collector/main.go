// Meter collector stores the grid readings broadcast by the interpreter API
// and keeps the hourly aggregates up to date.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/p1_gridmeter/pkg/config"
	"github.com/NotCoffee418/p1_gridmeter/pkg/interpreter"
	"github.com/NotCoffee418/p1_gridmeter/pkg/logging"
	"github.com/NotCoffee418/p1_gridmeter/pkg/meterdb"
	"github.com/NotCoffee418/p1_gridmeter/pkg/pathing"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "meter_collector",
		Usage: "Store the readings broadcast by the interpreter API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file, created with defaults when missing",
			},
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Usage:   "interpreter API host:port",
			},
			&cli.StringFlag{
				Name:    "log",
				Aliases: []string{"l"},
				Usage:   "log level: debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Meter collector stopped")
	}
}

func loadConfig(c *cli.Context) (*config.MeterCollectorConfig, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	var cfg *config.MeterCollectorConfig
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadMeterCollectorConfigFrom(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if err := config.LoadMeterCollectorConfig(); err != nil {
			return nil, err
		}
		cfg = config.ActiveMeterCollectorConfig
	}

	if c.IsSet("host") {
		cfg.InterpreterAPIHost = c.String("host")
	}
	if c.IsSet("log") {
		cfg.LogLevel = c.String("log")
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	if err := pathing.EnsureDirs(); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		return err
	}
	logger := logging.Component("meter_collector")

	// Initialize database
	meterdb.InitializeDatabase()
	col := &collector{db: meterdb.GetDB(), logger: logger}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go col.aggregateLoop(ctx, aggregateInterval, cfg.Retention())

	// Subscribe to websocket with revive
	return interpreter.StartListener(ctx, cfg.InterpreterAPIHost, cfg.TLSEnabled, col.handleMessage)
}

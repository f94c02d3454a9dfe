// Interpreter API is responsible for reading the P1 port and broadcasting the readings.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/config"
	"github.com/NotCoffee418/p1_gridmeter/pkg/logging"
	"github.com/NotCoffee418/p1_gridmeter/pkg/metrics"
	"github.com/NotCoffee418/p1_gridmeter/pkg/pathing"
	"github.com/NotCoffee418/p1_gridmeter/pkg/port_reader"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "interpreter_api",
		Usage: "Read DSMR telegrams from the P1 port and serve the grid readings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file, created with defaults when missing",
			},
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "serial device of the P1 cable (default from config: /dev/ttyP1)",
			},
			&cli.UintFlag{
				Name:    "baudrate",
				Aliases: []string{"b"},
				Usage:   "serial speed, 115200 for DSMR 4/5, 9600 for DSMR 2.2",
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
		log.Fatal().Err(err).Msg("Interpreter API stopped")
	}
}

func loadConfig(c *cli.Context) (*config.InterpreterAPIConfig, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	var cfg *config.InterpreterAPIConfig
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadInterpreterAPIConfigFrom(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if err := pathing.EnsureDirs(); err != nil {
			return nil, err
		}
		if err := config.LoadInterpreterAPIConfig(); err != nil {
			return nil, err
		}
		cfg = config.ActiveInterpreterAPIConfig
	}

	if c.IsSet("port") {
		cfg.SerialDevice = c.String("port")
	}
	if c.IsSet("baudrate") {
		cfg.Baudrate = c.Uint("baudrate")
	}
	if c.IsSet("log") {
		cfg.LogLevel = c.String("log")
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		return err
	}
	logger := logging.Component("interpreter_api")

	reader, err := port_reader.NewP1Reader(cfg.SerialConfig())
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if cfg.MetricsEnabled {
		recorder = metrics.NewRecorder()
	}
	server := newAPIServer(cfg.DeviceInstance, reader.State, recorder, logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	readerDone := make(chan error, 1)
	go func() {
		readerDone <- reader.Run(ctx, server.handleEvent)
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpDone := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen", cfg.ListenAddr()).
			Str("serial", reader.Config().String()).
			Msg("Starting P1 Grid Meter Interpreter API")
		httpDone <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-httpDone:
		stop()
		<-readerDone
		return err
	}

	logger.Info().Msg("Shutting down")
	server.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown")
	}

	// The reader finishes its read in progress first
	if err := <-readerDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

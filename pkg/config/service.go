package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/p1_gridmeter/pkg/pathing"
	"github.com/NotCoffee418/p1_gridmeter/pkg/port_reader"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

var (
	ActiveInterpreterAPIConfig *InterpreterAPIConfig
	ActiveMeterCollectorConfig *MeterCollectorConfig
)

// LoadDotEnv reads p1_gridmeter.env from the config dir and .env from the
// working directory when present. Variables already set are kept.
func LoadDotEnv() error {
	for _, path := range []string{filepath.Join(pathing.GetConfigDir(), "p1_gridmeter.env"), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func LoadInterpreterAPIConfig() error {
	cfg, err := LoadInterpreterAPIConfigFrom(filepath.Join(pathing.GetConfigDir(), "interpreter_api.toml"))
	if err != nil {
		return err
	}
	ActiveInterpreterAPIConfig = cfg
	return nil
}

func LoadMeterCollectorConfig() error {
	cfg, err := LoadMeterCollectorConfigFrom(filepath.Join(pathing.GetConfigDir(), "meter_collector.toml"))
	if err != nil {
		return err
	}
	ActiveMeterCollectorConfig = cfg
	return nil
}

// LoadInterpreterAPIConfigFrom reads configPath, writing the defaults
// there first if it does not exist, then applies environment overrides.
func LoadInterpreterAPIConfigFrom(configPath string) (*InterpreterAPIConfig, error) {
	cfg := DefaultInterpreterAPIConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadMeterCollectorConfigFrom(configPath string) (*MeterCollectorConfig, error) {
	cfg := DefaultMeterCollectorConfig()
	if err := loadOrCreate(configPath, cfg); err != nil {
		return nil, err
	}
	if host := os.Getenv("INTERPRETER_API_HOST"); host != "" {
		cfg.InterpreterAPIHost = host
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadOrCreate decodes configPath over the defaults already in cfg.
func loadOrCreate(configPath string, cfg any) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		return nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	return nil
}

func (c *InterpreterAPIConfig) applyEnv() error {
	if port := os.Getenv("P1_PORT"); port != "" {
		c.SerialDevice = port
	}
	if baud := os.Getenv("P1_BAUDRATE"); baud != "" {
		v, err := strconv.ParseUint(baud, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: P1_BAUDRATE %q: %w", ErrInvalidConfig, baud, err)
		}
		c.Baudrate = uint(v)
	}
	return nil
}

// SerialConfig converts the serial settings for the port reader.
func (c *InterpreterAPIConfig) SerialConfig() port_reader.SerialConfig {
	return port_reader.SerialConfig{
		Port:        c.SerialDevice,
		Baudrate:    c.Baudrate,
		ByteSize:    c.ByteSize,
		Parity:      c.Parity,
		ReadTimeout: time.Duration(c.ReadTimeoutSeconds * float64(time.Second)),
	}
}

func (c *InterpreterAPIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

func (c *InterpreterAPIConfig) Validate() error {
	var errs []error
	if err := c.SerialConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen_port %d out of range", c.ListenPort))
	}
	if c.DeviceInstance < 0 {
		errs = append(errs, fmt.Errorf("device_instance %d is negative", c.DeviceInstance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *MeterCollectorConfig) Validate() error {
	var errs []error
	if c.InterpreterAPIHost == "" {
		errs = append(errs, errors.New("interpreter_api_host is empty"))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("retention_days %d must be positive", c.RetentionDays))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *MeterCollectorConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

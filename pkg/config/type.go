package config

type MeterCollectorConfig struct {
	InterpreterAPIHost string `toml:"interpreter_api_host"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	// Raw readings older than this are removed once aggregated
	RetentionDays int    `toml:"retention_days"`
	LogLevel      string `toml:"log_level"`
}

type InterpreterAPIConfig struct {
	// Usually a udev symlink to the P1 cable
	SerialDevice       string  `toml:"serial_device"`
	Baudrate           uint    `toml:"baudrate"`
	ByteSize           uint    `toml:"byte_size"`
	Parity             string  `toml:"parity"`
	ReadTimeoutSeconds float64 `toml:"read_timeout_seconds"`
	ListenAddress      string  `toml:"listen_address"`
	ListenPort         int     `toml:"listen_port"`
	// Announced with the device registration
	DeviceInstance int    `toml:"device_instance"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	LogLevel       string `toml:"log_level"`
}

func DefaultInterpreterAPIConfig() *InterpreterAPIConfig {
	return &InterpreterAPIConfig{
		SerialDevice:       "/dev/ttyP1",
		Baudrate:           115200,
		ByteSize:           8,
		Parity:             "none",
		ReadTimeoutSeconds: 3,
		ListenAddress:      "0.0.0.0",
		ListenPort:         9039,
		DeviceInstance:     10,
		MetricsEnabled:     true,
		LogLevel:           "info",
	}
}

func DefaultMeterCollectorConfig() *MeterCollectorConfig {
	return &MeterCollectorConfig{
		InterpreterAPIHost: "localhost:9039",
		TLSEnabled:         false,
		RetentionDays:      90,
		LogLevel:           "info",
	}
}

package port_reader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
	"github.com/jacobsa/go-serial/serial"
)

var (
	ErrInvalidConfiguration = errors.New("invalid serial configuration")
	ErrReadTimeout          = errors.New("timeout reading from serial port")
	ErrPortNotFound         = errors.New("serial port not found")
)

const (
	DefaultBaudrate    = 115200
	DefaultByteSize    = 8
	DefaultParity      = "none"
	DefaultReadTimeout = 3 * time.Second
)

var parityModes = map[string]serial.ParityMode{
	"none": serial.PARITY_NONE,
	"odd":  serial.PARITY_ODD,
	"even": serial.PARITY_EVEN,
}

// SerialConfig describes how to open the P1 port.
type SerialConfig struct {
	Port        string
	Baudrate    uint
	ByteSize    uint
	Parity      string
	ReadTimeout time.Duration
}

// DefaultSerialConfig returns the DSMR 4/5 settings (115200 8N1) for port.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:        port,
		Baudrate:    DefaultBaudrate,
		ByteSize:    DefaultByteSize,
		Parity:      DefaultParity,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Validate checks every field so a bad setting fails at construction
// instead of on the first open.
func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is empty", ErrInvalidConfiguration)
	}
	if c.Baudrate == 0 {
		return fmt.Errorf("%w: baudrate must be positive", ErrInvalidConfiguration)
	}
	if c.ByteSize != 7 && c.ByteSize != 8 {
		return fmt.Errorf("%w: byte size %d, should be 7 or 8", ErrInvalidConfiguration, c.ByteSize)
	}
	if _, ok := parityModes[strings.ToLower(c.Parity)]; !ok {
		return fmt.Errorf("%w: parity %q, should be none, odd or even", ErrInvalidConfiguration, c.Parity)
	}
	// The driver counts the timeout in tenths of a second, up to 25.5s.
	if c.ReadTimeout < 100*time.Millisecond || c.ReadTimeout > 25500*time.Millisecond {
		return fmt.Errorf("%w: read timeout %s out of range 0.1s-25.5s", ErrInvalidConfiguration, c.ReadTimeout)
	}
	return nil
}

func (c SerialConfig) String() string {
	parity := "N"
	if c.Parity != "" {
		parity = strings.ToUpper(c.Parity[:1])
	}
	return fmt.Sprintf("%s @ %d %d%s1", c.Port, c.Baudrate, c.ByteSize, parity)
}

// SerialOpener opens the real device through go-serial.
var SerialOpener Opener = OpenerFunc(openSerial)

func openSerial(cfg SerialConfig) (io.ReadCloser, error) {
	options := serial.OpenOptions{
		PortName:   cfg.Port,
		BaudRate:   cfg.Baudrate,
		DataBits:   cfg.ByteSize,
		StopBits:   1,
		ParityMode: parityModes[strings.ToLower(cfg.Parity)],
		// Reads return empty once the line has been silent this long.
		InterCharacterTimeout: uint(cfg.ReadTimeout / time.Millisecond),
		MinimumReadSize:       0,
	}

	port, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	return port, nil
}

// portExists is the default probe for StateAwaitingPort.
func portExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// timeoutReader turns the driver's empty read after its timeout into
// ErrReadTimeout.
type timeoutReader struct {
	r io.Reader
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && len(p) > 0 && (err == nil || err == io.EOF) {
		return 0, ErrReadTimeout
	}
	return n, err
}

// connection is one open serial handle together with its line buffer.
type connection struct {
	port   io.ReadCloser
	reader *bufio.Reader
}

func newConnection(port io.ReadCloser) *connection {
	return &connection{
		port:   port,
		reader: bufio.NewReader(timeoutReader{r: port}),
	}
}

func (c *connection) close() error {
	return c.port.Close()
}

// classifyError maps read and open failures onto an outcome.
// Anything the driver reports that is not a timeout or a corrupt frame
// means the device cannot be used right now and must be re-acquired.
func classifyError(err error) ReadOutcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrReadTimeout), os.IsTimeout(err):
		return OutcomeTimeout
	case errors.Is(err, dsmr.ErrChecksumMismatch), errors.Is(err, dsmr.ErrInvalidTelegram):
		return OutcomeChecksumFailed
	default:
		return OutcomeNotFound
	}
}

// isDeviceGone reports the "no such device" family of errors.
func isDeviceGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ENXIO) ||
		errors.Is(err, syscall.EIO)
}

package port_reader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
)

// State is the acquisition phase of a P1Reader.
type State int

const (
	// StateAwaitingPort polls until the device path exists.
	StateAwaitingPort State = iota
	// StateAwaitingTelegram opens the port and waits for the first valid telegram.
	StateAwaitingTelegram
	// StateStreaming delivers telegrams from an announced device.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateAwaitingPort:
		return "awaiting_port"
	case StateAwaitingTelegram:
		return "awaiting_telegram"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind tells the consumer what happened during acquisition.
type EventKind int

const (
	EventPortWaiting EventKind = iota
	EventDeviceAnnounced
	EventTelegramReceived
	EventChecksumRejected
	EventReadTimedOut
	EventPortUnavailable
)

func (k EventKind) String() string {
	switch k {
	case EventPortWaiting:
		return "port_waiting"
	case EventDeviceAnnounced:
		return "device_announced"
	case EventTelegramReceived:
		return "telegram_received"
	case EventChecksumRejected:
		return "checksum_rejected"
	case EventReadTimedOut:
		return "read_timed_out"
	case EventPortUnavailable:
		return "port_unavailable"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by P1Reader.Run. Port is always set; Identity and
// Telegram are set for DeviceAnnounced and TelegramReceived; Err carries
// the underlying cause for the failure kinds.
type Event struct {
	Kind     EventKind
	Port     string
	Identity string
	Telegram *dsmr.Telegram
	Err      error
}

// ReadOutcome is the result class of one read-frame-validate cycle.
type ReadOutcome int

const (
	OutcomeSuccess ReadOutcome = iota
	OutcomeTimeout
	OutcomeNotFound
	OutcomeChecksumFailed
)

func (o ReadOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeChecksumFailed:
		return "checksum_failed"
	default:
		return fmt.Sprintf("ReadOutcome(%d)", int(o))
	}
}

type readResult struct {
	outcome  ReadOutcome
	telegram *dsmr.Telegram
	err      error
}

// Opener opens the serial device described by cfg.
type Opener interface {
	Open(cfg SerialConfig) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(cfg SerialConfig) (io.ReadCloser, error)

func (f OpenerFunc) Open(cfg SerialConfig) (io.ReadCloser, error) {
	return f(cfg)
}

// P1Reader owns one serial endpoint and runs the acquisition loop on it.
type P1Reader struct {
	config SerialConfig

	opener       Opener
	portExists   func(path string) bool
	sleep        func(ctx context.Context, d time.Duration) bool
	pollInterval time.Duration
	debounce     time.Duration

	// Only touched by the goroutine running Run.
	conn        *connection
	waitingSent bool

	mu             sync.RWMutex
	state          State
	identity       string
	latestTelegram *dsmr.Telegram
	running        bool
}

package port_reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
)

const (
	DefaultPollInterval = time.Second
	DefaultDebounce     = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("p1 reader already running")

// Option customises a P1Reader.
type Option func(*P1Reader)

// WithOpener replaces the serial driver.
func WithOpener(o Opener) Option {
	return func(p *P1Reader) { p.opener = o }
}

// WithPortProbe replaces the check for the device path.
func WithPortProbe(exists func(path string) bool) Option {
	return func(p *P1Reader) { p.portExists = exists }
}

// WithPollInterval sets how often a missing port is checked.
func WithPollInterval(d time.Duration) Option {
	return func(p *P1Reader) { p.pollInterval = d }
}

// WithDebounce sets the pause after the port vanished while acquiring.
func WithDebounce(d time.Duration) Option {
	return func(p *P1Reader) { p.debounce = d }
}

// NewP1Reader validates cfg and prepares a reader. Configuration errors
// are only ever reported here.
func NewP1Reader(cfg SerialConfig, opts ...Option) (*P1Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &P1Reader{
		config:       cfg,
		opener:       SerialOpener,
		portExists:   portExists,
		sleep:        sleepContext,
		pollInterval: DefaultPollInterval,
		debounce:     DefaultDebounce,
		state:        StateAwaitingPort,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run acquires the port and delivers events to handle until ctx is
// cancelled. handle is called from the Run goroutine. A read in progress
// is allowed to finish or time out before Run returns ctx.Err().
func (p *P1Reader) Run(ctx context.Context, handle func(Event)) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.state = StateAwaitingPort
	p.mu.Unlock()

	defer func() {
		p.disconnect()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.waitingSent = false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.State() == StateAwaitingPort {
			p.awaitPort(ctx, handle)
			continue
		}
		p.acquire(ctx, handle)
	}
}

// State returns the current acquisition state.
func (p *P1Reader) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Identity returns the equipment identifier of the announced device.
func (p *P1Reader) Identity() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity
}

// LatestTelegram returns the last delivered telegram, or nil.
func (p *P1Reader) LatestTelegram() *dsmr.Telegram {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestTelegram
}

func (p *P1Reader) Config() SerialConfig {
	return p.config
}

func (p *P1Reader) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *P1Reader) awaitPort(ctx context.Context, handle func(Event)) {
	if p.portExists(p.config.Port) {
		p.waitingSent = false
		p.setState(StateAwaitingTelegram)
		return
	}

	// Report once per absence, not on every poll.
	if !p.waitingSent {
		p.waitingSent = true
		handle(Event{Kind: EventPortWaiting, Port: p.config.Port})
	}
	p.sleep(ctx, p.pollInterval)
}

// acquire runs one read cycle in StateAwaitingTelegram or StateStreaming
// and applies the resulting transition.
func (p *P1Reader) acquire(ctx context.Context, handle func(Event)) {
	result := <-p.readAsync()

	from := p.State()
	step := transition(from, result.outcome)
	event := Event{Kind: step.event, Port: p.config.Port, Err: result.err}

	if step.closePort {
		p.disconnect()
	}

	if result.outcome == OutcomeSuccess {
		p.mu.Lock()
		if from == StateAwaitingTelegram {
			p.identity, _ = result.telegram.Text(dsmr.EquipmentIdentifier)
		}
		p.latestTelegram = result.telegram
		event.Identity = p.identity
		event.Telegram = result.telegram
		p.state = step.next
		p.mu.Unlock()
	} else {
		p.setState(step.next)
	}

	handle(event)

	if step.debounce {
		p.sleep(ctx, p.debounce)
	}
}

// readAsync performs one blocking read cycle on a worker goroutine and
// hands the result back on a single-item channel.
func (p *P1Reader) readAsync() <-chan readResult {
	done := make(chan readResult, 1)
	go func() {
		done <- p.readOnce()
	}()
	return done
}

func (p *P1Reader) readOnce() readResult {
	if p.conn == nil {
		port, err := p.opener.Open(p.config)
		if err != nil {
			return failedRead(err)
		}
		p.conn = newConnection(port)
	}

	raw, err := readTelegram(p.conn.reader)
	if err != nil {
		return failedRead(err)
	}

	telegram, err := dsmr.Parse(raw)
	if err != nil {
		return readResult{outcome: OutcomeChecksumFailed, err: err}
	}
	return readResult{outcome: OutcomeSuccess, telegram: telegram}
}

func failedRead(err error) readResult {
	outcome := classifyError(err)
	if outcome == OutcomeNotFound && isDeviceGone(err) && !errors.Is(err, ErrPortNotFound) {
		err = fmt.Errorf("%w: %w", ErrPortNotFound, err)
	}
	return readResult{outcome: outcome, err: err}
}

func (p *P1Reader) disconnect() {
	if p.conn == nil {
		return
	}
	_ = p.conn.close()
	p.conn = nil
}

// step is what the state machine does with one read outcome.
type step struct {
	next      State
	event     EventKind
	closePort bool
	debounce  bool
}

// transition is the acquisition state table for the two reading states.
//
// While waiting for the first telegram a timeout is simply retried, since
// the read timeout already bounds the retry rate. Once streaming, a
// timeout means the meter stopped talking and the device is re-acquired,
// so its identity is confirmed again. A corrupt telegram never tears
// down the connection.
func transition(from State, outcome ReadOutcome) step {
	switch outcome {
	case OutcomeSuccess:
		if from == StateStreaming {
			return step{next: StateStreaming, event: EventTelegramReceived}
		}
		return step{next: StateStreaming, event: EventDeviceAnnounced}
	case OutcomeChecksumFailed:
		return step{next: from, event: EventChecksumRejected}
	case OutcomeTimeout:
		if from == StateStreaming {
			return step{next: StateAwaitingPort, event: EventReadTimedOut, closePort: true}
		}
		return step{next: StateAwaitingTelegram, event: EventReadTimedOut, closePort: true}
	default:
		if from == StateStreaming {
			return step{next: StateAwaitingPort, event: EventPortUnavailable, closePort: true}
		}
		return step{next: StateAwaitingPort, event: EventPortUnavailable, closePort: true, debounce: true}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

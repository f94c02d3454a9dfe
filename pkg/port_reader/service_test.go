package port_reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/dsmr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpener returns the scripted ports in order, then fails.
type fakeOpener struct {
	mu    sync.Mutex
	ports []*fakePort
	errs  []error
	opens int
}

func (f *fakeOpener) Open(cfg SerialConfig) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.ports) == 0 {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, syscall.ENOENT)
	}
	port := f.ports[0]
	f.ports = f.ports[1:]
	return port, nil
}

type recorder struct {
	events []Event
	states []State
	sleeps []time.Duration
}

func (r *recorder) kinds() []EventKind {
	kinds := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func newTestReader(t *testing.T, opener Opener, probe func(string) bool, rec *recorder) *P1Reader {
	t.Helper()
	p, err := NewP1Reader(DefaultSerialConfig("/dev/ttyP1"),
		WithOpener(opener),
		WithPortProbe(probe),
	)
	require.NoError(t, err)
	p.sleep = func(ctx context.Context, d time.Duration) bool {
		rec.sleeps = append(rec.sleeps, d)
		return ctx.Err() == nil
	}
	return p
}

// runUntil runs p until stop returns true for an emitted event.
func runUntil(t *testing.T, p *P1Reader, rec *recorder, stop func(Event) bool) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Run(ctx, func(e Event) {
		rec.events = append(rec.events, e)
		rec.states = append(rec.states, p.State())
		if stop(e) {
			cancel()
		}
	})
	require.NotErrorIs(t, err, context.DeadlineExceeded, "reader never reached the expected event")
	return err
}

func TestNewP1Reader_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultSerialConfig("/dev/ttyP1")
	cfg.ByteSize = 6

	p, err := NewP1Reader(cfg)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewP1Reader_Defaults(t *testing.T) {
	p, err := NewP1Reader(DefaultSerialConfig("/dev/ttyP1"))
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingPort, p.State())
	assert.Equal(t, DefaultPollInterval, p.pollInterval)
	assert.Equal(t, DefaultDebounce, p.debounce)
	assert.Empty(t, p.Identity())
	assert.Nil(t, p.LatestTelegram())
}

func TestRun_FullLifecycle(t *testing.T) {
	sample := sampleTelegram(t)
	port := newFakePort(sample, corruptTelegram, sample)
	opener := &fakeOpener{ports: []*fakePort{port}}

	probes := 0
	probe := func(string) bool {
		probes++
		return probes > 3
	}

	rec := &recorder{}
	p := newTestReader(t, opener, probe, rec)

	err := runUntil(t, p, rec, func(e Event) bool { return e.Kind == EventReadTimedOut })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []EventKind{
		EventPortWaiting,
		EventDeviceAnnounced,
		EventChecksumRejected,
		EventTelegramReceived,
		EventReadTimedOut,
	}, rec.kinds())
	assert.Equal(t, []State{
		StateAwaitingPort,
		StateStreaming,
		StateStreaming,
		StateStreaming,
		StateAwaitingPort,
	}, rec.states)

	// the port was polled three times but the wait was reported once
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval, DefaultPollInterval}, rec.sleeps)

	announced := rec.events[1]
	assert.Equal(t, sampleTelegramID, announced.Identity)
	require.NotNil(t, announced.Telegram)
	assert.Equal(t, "/dev/ttyP1", announced.Port)

	assert.ErrorIs(t, rec.events[2].Err, dsmr.ErrChecksumMismatch)

	received := rec.events[3]
	assert.Equal(t, sampleTelegramID, received.Identity)
	require.NotNil(t, received.Telegram)
	assert.Same(t, received.Telegram, p.LatestTelegram())

	assert.ErrorIs(t, rec.events[4].Err, ErrReadTimeout)
	assert.Equal(t, 1, opener.opens, "a checksum failure must not reopen the port")
	assert.True(t, port.isClosed())
	assert.Equal(t, sampleTelegramID, p.Identity())
}

func TestRun_TimeoutWhileAwaitingTelegramRetries(t *testing.T) {
	first := newFakePort()
	second := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{first, second}}

	rec := &recorder{}
	p := newTestReader(t, opener, func(string) bool { return true }, rec)

	timeouts := 0
	_ = runUntil(t, p, rec, func(e Event) bool {
		if e.Kind == EventReadTimedOut {
			timeouts++
		}
		return timeouts == 2
	})

	assert.Equal(t, []EventKind{EventReadTimedOut, EventReadTimedOut}, rec.kinds())
	assert.Equal(t, []State{StateAwaitingTelegram, StateAwaitingTelegram}, rec.states)
	assert.Equal(t, 2, opener.opens)
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Empty(t, rec.sleeps, "timeouts are retried without a pause")
}

func TestRun_PortVanishesWhileAwaitingTelegram(t *testing.T) {
	opener := &fakeOpener{errs: []error{fmt.Errorf("open /dev/ttyP1: %w", syscall.ENOENT)}}

	rec := &recorder{}
	p := newTestReader(t, opener, func(string) bool { return true }, rec)

	_ = runUntil(t, p, rec, func(e Event) bool { return e.Kind == EventPortUnavailable })

	require.Len(t, rec.events, 1)
	assert.ErrorIs(t, rec.events[0].Err, ErrPortNotFound)
	assert.ErrorIs(t, rec.events[0].Err, syscall.ENOENT)
	assert.Equal(t, []State{StateAwaitingPort}, rec.states)
	assert.Equal(t, []time.Duration{DefaultDebounce}, rec.sleeps)
}

func TestRun_PortVanishesWhileStreaming(t *testing.T) {
	port := newFakePort(shortTelegram)
	port.err = syscall.EIO
	opener := &fakeOpener{ports: []*fakePort{port}}

	rec := &recorder{}
	p := newTestReader(t, opener, func(string) bool { return true }, rec)

	_ = runUntil(t, p, rec, func(e Event) bool { return e.Kind == EventPortUnavailable })

	assert.Equal(t, []EventKind{EventDeviceAnnounced, EventPortUnavailable}, rec.kinds())
	assert.Equal(t, []State{StateStreaming, StateAwaitingPort}, rec.states)
	assert.Empty(t, rec.events[0].Identity, "a telegram without an equipment id announces an empty identity")
	assert.ErrorIs(t, rec.events[1].Err, ErrPortNotFound)
	assert.Empty(t, rec.sleeps, "no debounce once streaming")
	assert.True(t, port.isClosed())
}

func TestRun_ReannouncesAfterReacquiring(t *testing.T) {
	first := newFakePort(shortTelegram)
	second := newFakePort(shortTelegram)
	opener := &fakeOpener{ports: []*fakePort{first, second}}

	rec := &recorder{}
	p := newTestReader(t, opener, func(string) bool { return true }, rec)

	announcements := 0
	_ = runUntil(t, p, rec, func(e Event) bool {
		if e.Kind == EventDeviceAnnounced {
			announcements++
		}
		return announcements == 2
	})

	assert.Equal(t, []EventKind{
		EventDeviceAnnounced,
		EventReadTimedOut,
		EventDeviceAnnounced,
	}, rec.kinds())
}

func TestRun_PortWaitingOncePerAbsence(t *testing.T) {
	probes := 0
	probe := func(string) bool {
		probes++
		// absent, absent, present, absent, absent
		return probes == 3
	}
	opener := &fakeOpener{errs: []error{fmt.Errorf("open: %w", syscall.ENODEV)}}

	rec := &recorder{}
	p := newTestReader(t, opener, probe, rec)

	waits := 0
	_ = runUntil(t, p, rec, func(e Event) bool {
		if e.Kind == EventPortWaiting {
			waits++
		}
		return waits == 2
	})

	assert.Equal(t, []EventKind{EventPortWaiting, EventPortUnavailable, EventPortWaiting}, rec.kinds())
}

func TestRun_AlreadyRunning(t *testing.T) {
	p, err := NewP1Reader(DefaultSerialConfig("/dev/ttyP1"))
	require.NoError(t, err)
	p.running = true

	err = p.Run(context.Background(), func(Event) {})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	p, err := NewP1Reader(DefaultSerialConfig("/dev/ttyP1"), WithPortProbe(func(string) bool { return false }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Run(ctx, func(Event) { t.Fatal("no events expected") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from    State
		outcome ReadOutcome
		want    step
	}{
		{StateAwaitingTelegram, OutcomeSuccess, step{next: StateStreaming, event: EventDeviceAnnounced}},
		{StateAwaitingTelegram, OutcomeChecksumFailed, step{next: StateAwaitingTelegram, event: EventChecksumRejected}},
		{StateAwaitingTelegram, OutcomeTimeout, step{next: StateAwaitingTelegram, event: EventReadTimedOut, closePort: true}},
		{StateAwaitingTelegram, OutcomeNotFound, step{next: StateAwaitingPort, event: EventPortUnavailable, closePort: true, debounce: true}},
		{StateStreaming, OutcomeSuccess, step{next: StateStreaming, event: EventTelegramReceived}},
		{StateStreaming, OutcomeChecksumFailed, step{next: StateStreaming, event: EventChecksumRejected}},
		{StateStreaming, OutcomeTimeout, step{next: StateAwaitingPort, event: EventReadTimedOut, closePort: true}},
		{StateStreaming, OutcomeNotFound, step{next: StateAwaitingPort, event: EventPortUnavailable, closePort: true}},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, transition(tt.from, tt.outcome))
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ReadOutcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"read timeout", ErrReadTimeout, OutcomeTimeout},
		{"wrapped timeout", fmt.Errorf("read: %w", ErrReadTimeout), OutcomeTimeout},
		{"checksum", &dsmr.ChecksumError{Expected: "0000", Computed: 0xD1C6}, OutcomeChecksumFailed},
		{"invalid telegram", dsmr.ErrInvalidTelegram, OutcomeChecksumFailed},
		{"no such file", syscall.ENOENT, OutcomeNotFound},
		{"no device", syscall.ENODEV, OutcomeNotFound},
		{"io error", syscall.EIO, OutcomeNotFound},
		{"unknown", errors.New("boom"), OutcomeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestSerialConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SerialConfig)
		ok     bool
	}{
		{"defaults", func(*SerialConfig) {}, true},
		{"seven bits even parity", func(c *SerialConfig) { c.ByteSize = 7; c.Parity = "EVEN"; c.Baudrate = 9600 }, true},
		{"empty port", func(c *SerialConfig) { c.Port = "" }, false},
		{"zero baudrate", func(c *SerialConfig) { c.Baudrate = 0 }, false},
		{"byte size 5", func(c *SerialConfig) { c.ByteSize = 5 }, false},
		{"mark parity", func(c *SerialConfig) { c.Parity = "mark" }, false},
		{"timeout too short", func(c *SerialConfig) { c.ReadTimeout = 10 * time.Millisecond }, false},
		{"timeout too long", func(c *SerialConfig) { c.ReadTimeout = time.Minute }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSerialConfig("/dev/ttyP1")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			}
		})
	}
}

func TestSerialConfig_String(t *testing.T) {
	assert.Equal(t, "/dev/ttyP1 @ 115200 8N1", DefaultSerialConfig("/dev/ttyP1").String())
}

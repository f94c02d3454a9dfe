// Package metrics exposes acquisition counters and grid gauges for
// Prometheus. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/NotCoffee418/p1_gridmeter/pkg/interpreter"
	"github.com/NotCoffee418/p1_gridmeter/pkg/port_reader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "p1"

// Recorder holds the Prometheus metrics of one P1 reader.
type Recorder struct {
	registry *prometheus.Registry

	telegrams          prometheus.Counter
	checksumErrors     prometheus.Counter
	readTimeouts       prometheus.Counter
	portUnavailable    prometheus.Counter
	deviceAnnouncement prometheus.Counter
	state              prometheus.Gauge
	lastTelegram       prometheus.Gauge
	gridPower          prometheus.Gauge
	phasePower         *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		telegrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_total",
			Help:      "Valid telegrams delivered",
		}),
		checksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_errors_total",
			Help:      "Telegrams rejected because the checksum did not match",
		}),
		readTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_timeouts_total",
			Help:      "Reads that saw no complete telegram within the timeout",
		}),
		portUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "port_unavailable_total",
			Help:      "Times the serial device disappeared or failed",
		}),
		deviceAnnouncement: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_announcements_total",
			Help:      "Times a meter was (re)announced",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Acquisition state: 0 awaiting port, 1 awaiting telegram, 2 streaming",
		}),
		lastTelegram: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_telegram_timestamp_seconds",
			Help:      "Unix timestamp of the last valid telegram",
		}),
		gridPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_power_watts",
			Help:      "Net grid power, negative when exporting",
		}),
		phasePower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_power_watts",
			Help:      "Net power per phase, negative when exporting",
		}, []string{"phase"}),
	}

	r.registry.MustRegister(
		r.telegrams,
		r.checksumErrors,
		r.readTimeouts,
		r.portUnavailable,
		r.deviceAnnouncement,
		r.state,
		r.lastTelegram,
		r.gridPower,
		r.phasePower,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe counts one acquisition event.
func (r *Recorder) Observe(e port_reader.Event) {
	if r == nil {
		return
	}

	switch e.Kind {
	case port_reader.EventDeviceAnnounced:
		r.deviceAnnouncement.Inc()
		r.telegramSeen()
	case port_reader.EventTelegramReceived:
		r.telegramSeen()
	case port_reader.EventChecksumRejected:
		r.checksumErrors.Inc()
	case port_reader.EventReadTimedOut:
		r.readTimeouts.Inc()
	case port_reader.EventPortUnavailable:
		r.portUnavailable.Inc()
	}
}

func (r *Recorder) telegramSeen() {
	r.telegrams.Inc()
	r.lastTelegram.Set(float64(time.Now().Unix()))
}

func (r *Recorder) SetState(s port_reader.State) {
	if r == nil {
		return
	}
	r.state.Set(float64(s))
}

// ObserveReading updates the power gauges.
func (r *Recorder) ObserveReading(reading *interpreter.GridReading) {
	if r == nil || reading == nil {
		return
	}
	r.gridPower.Set(reading.PowerW)
	for i, phase := range reading.Phases() {
		if phase == nil {
			continue
		}
		r.phasePower.WithLabelValues(phaseLabels[i]).Set(phase.PowerW)
	}
}

var phaseLabels = [3]string{"L1", "L2", "L3"}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry, or 404 when metrics are disabled.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

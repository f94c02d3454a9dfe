package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/NotCoffee418/p1_gridmeter/pkg/interpreter"
	"github.com/NotCoffee418/p1_gridmeter/pkg/metrics"
	"github.com/NotCoffee418/p1_gridmeter/pkg/port_reader"
	"github.com/NotCoffee418/p1_gridmeter/pkg/wshub"
	"github.com/rs/zerolog"
)

// apiServer turns reader events into signals and serves them.
type apiServer struct {
	deviceInstance int
	state          func() port_reader.State
	hub            *wshub.Hub
	metrics        *metrics.Recorder
	logger         zerolog.Logger

	mu           sync.RWMutex
	registration *interpreter.Registration
	latest       *interpreter.GridReading
}

func newAPIServer(deviceInstance int, state func() port_reader.State, recorder *metrics.Recorder, logger zerolog.Logger) *apiServer {
	s := &apiServer{
		deviceInstance: deviceInstance,
		state:          state,
		metrics:        recorder,
		logger:         logger,
	}
	s.hub = wshub.NewHub(s.greeting)
	return s
}

func (s *apiServer) handleEvent(e port_reader.Event) {
	s.metrics.Observe(e)
	s.metrics.SetState(s.state())

	switch e.Kind {
	case port_reader.EventPortWaiting:
		s.logger.Info().Str("port", e.Port).Msg("Waiting for P1 port")
	case port_reader.EventDeviceAnnounced:
		reg := interpreter.NewRegistration(e.Identity, s.deviceInstance)
		s.mu.Lock()
		s.registration = reg
		s.mu.Unlock()

		s.logger.Info().Str("port", e.Port).Str("serial", reg.Serial).Msg("Smart meter found, registering")
		s.hub.Broadcast(interpreter.NewRegistrationMessage(reg).ToJsonBytes())
		s.publishReading(e)
	case port_reader.EventTelegramReceived:
		s.publishReading(e)
	case port_reader.EventChecksumRejected:
		s.logger.Warn().Err(e.Err).Msg("Telegram rejected")
	case port_reader.EventReadTimedOut:
		s.logger.Debug().Err(e.Err).Msg("No telegram within timeout")
	case port_reader.EventPortUnavailable:
		s.logger.Warn().Err(e.Err).Str("port", e.Port).Msg("P1 port unavailable")
	}
}

func (s *apiServer) publishReading(e port_reader.Event) {
	if e.Telegram == nil {
		return
	}
	reading := interpreter.InterpretTelegram(e.Identity, e.Telegram)

	s.mu.Lock()
	s.latest = reading
	s.mu.Unlock()

	s.metrics.ObserveReading(reading)
	s.hub.Broadcast(interpreter.NewReadingMessage(reading).ToJsonBytes())
}

// greeting gives new websocket clients the current registration and
// reading so they do not wait for the next telegram.
func (s *apiServer) greeting() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages [][]byte
	if s.registration != nil {
		messages = append(messages, interpreter.NewRegistrationMessage(s.registration).ToJsonBytes())
	}
	if s.latest != nil {
		messages = append(messages, interpreter.NewReadingMessage(s.latest).ToJsonBytes())
	}
	return messages
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
			return
		}
		s.mu.RLock()
		serial := ""
		if s.registration != nil {
			serial = s.registration.Serial
		}
		s.mu.RUnlock()

		writeJSON(w, http.StatusOK, map[string]string{
			"message": "P1 Grid Meter API",
			"status":  "running",
			"state":   s.state().String(),
			"serial":  serial,
		})
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		reading := s.latest
		s.mu.RUnlock()
		if reading == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "No readings available yet"})
			return
		}
		writeJSON(w, http.StatusOK, reading)
	})

	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		reg := s.registration
		s.mu.RUnlock()
		if reg == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "No device registered yet"})
			return
		}
		writeJSON(w, http.StatusOK, reg)
	})

	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package interpreter

import (
	"encoding/json"
	"fmt"
)

const (
	MessageTypeRegistration = "registration"
	MessageTypeReading      = "reading"
)

// PhaseReading is one phase of the grid connection. Import is positive,
// export negative.
type PhaseReading struct {
	PowerW   float64  `json:"power_w"`
	VoltageV *float64 `json:"voltage_v,omitempty"`
	CurrentA *float64 `json:"current_a,omitempty"`
}

// GridReading holds the signals derived from one telegram.
type GridReading struct {
	Timestamp int64  `json:"timestamp"`
	Serial    string `json:"serial"`
	Tariff    string `json:"tariff,omitempty"`

	EnergyForwardKWh *float64 `json:"energy_forward_kwh,omitempty"`
	EnergyReverseKWh *float64 `json:"energy_reverse_kwh,omitempty"`
	PowerW           float64  `json:"power_w"`

	L1 *PhaseReading `json:"l1,omitempty"`
	L2 *PhaseReading `json:"l2,omitempty"`
	L3 *PhaseReading `json:"l3,omitempty"`

	GasM3 *float64 `json:"gas_m3,omitempty"`
}

// Phases returns L1, L2 and L3 in order, nil where not reported.
func (r *GridReading) Phases() [3]*PhaseReading {
	return [3]*PhaseReading{r.L1, r.L2, r.L3}
}

// Registration announces a meter to consumers, which start a fresh
// registration cycle when they receive one.
type Registration struct {
	Timestamp      int64  `json:"timestamp"`
	Identity       string `json:"identity"`
	Serial         string `json:"serial"`
	ProductName    string `json:"product_name"`
	DeviceInstance int    `json:"device_instance"`
	Role           string `json:"role"`
}

// Message is the envelope sent over the /ws stream.
type Message struct {
	Type         string        `json:"type"`
	Registration *Registration `json:"registration,omitempty"`
	Reading      *GridReading  `json:"reading,omitempty"`
}

func NewReadingMessage(r *GridReading) *Message {
	return &Message{Type: MessageTypeReading, Reading: r}
}

func NewRegistrationMessage(r *Registration) *Message {
	return &Message{Type: MessageTypeRegistration, Registration: r}
}

func (m *Message) ToJsonBytes() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// Only plain fields, cannot fail
		panic(err)
	}
	return b
}

// MessageFromJsonBytes returns nil when data is not a known message.
func MessageFromJsonBytes(data []byte) *Message {
	msg, err := ParseMessage(data)
	if err != nil {
		return nil
	}
	return msg
}

func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	switch msg.Type {
	case MessageTypeReading:
		if msg.Reading == nil {
			return nil, fmt.Errorf("reading message without reading")
		}
	case MessageTypeRegistration:
		if msg.Registration == nil {
			return nil, fmt.Errorf("registration message without registration")
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

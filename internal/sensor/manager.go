package sensor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Rate is a sampling-rate class requested at registration
type Rate int

const (
	RateFastest Rate = iota
	RateGame
	RateUI
	RateNormal
)

func (r Rate) String() string {
	switch r {
	case RateFastest:
		return "fastest"
	case RateGame:
		return "game"
	case RateUI:
		return "ui"
	case RateNormal:
		return "normal"
	default:
		return fmt.Sprintf("rate(%d)", int(r))
	}
}

// Policy decides the rate each sensor is registered at. The sensor type
// matching FastestType gets RateFastest, everything else RateUI.
type Policy struct {
	FastestType int
	Intervals   map[Rate]time.Duration
}

// RateFor returns the rate class for d
func (p Policy) RateFor(d Descriptor) Rate {
	if d.Type == p.FastestType {
		return RateFastest
	}
	return RateUI
}

// Interval returns the polling interval configured for r
func (p Policy) Interval(r Rate) time.Duration {
	if iv, ok := p.Intervals[r]; ok && iv > 0 {
		return iv
	}
	return 60 * time.Millisecond
}

// HeaderWriter receives one descriptor record per registered sensor
type HeaderWriter interface {
	WriteDescriptor(d Descriptor) error
}

// Manager enumerates and registers every sensor a Service offers for one session
type Manager struct {
	svc    Service
	policy Policy

	mu         sync.Mutex
	registered []Descriptor
	active     bool
}

// NewManager creates a manager for svc. A nil svc means no sensor service exists.
func NewManager(svc Service, policy Policy) *Manager {
	return &Manager{svc: svc, policy: policy}
}

// Start writes a descriptor record and registers a subscription for every
// sensor in enumeration order. Descriptors are all written before Start
// returns, so a consumer started afterwards sees headers before samples.
// On a registration failure every subscription made so far is released.
func (m *Manager) Start(header HeaderWriter, events chan<- Sample) ([]Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.svc == nil {
		return nil, ErrNoSensorService
	}
	if m.active {
		return nil, fmt.Errorf("sensor manager already started")
	}

	sensors, err := m.svc.List()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate sensors: %w", err)
	}
	m.active = true

	for _, d := range sensors {
		if err := header.WriteDescriptor(d); err != nil {
			slog.Warn("Failed to write sensor descriptor", "sensor", d.Name, "error", err)
		}

		rate := m.policy.RateFor(d)
		if err := m.svc.Register(d, m.policy.Interval(rate), events); err != nil {
			if uerr := m.svc.UnregisterAll(); uerr != nil {
				slog.Warn("Failed to release sensors after registration failure", "error", uerr)
			}
			m.registered = nil
			m.active = false
			return nil, fmt.Errorf("failed to register sensor %s: %w", d.Name, err)
		}

		m.registered = append(m.registered, d)
		slog.Info("Sensor found", "type", d.TypeName, "name", d.Name, "code", d.Type, "rate", rate.String())
	}

	if len(sensors) == 0 {
		slog.Info("Sensor service reported no sensors")
	}

	out := make([]Descriptor, len(m.registered))
	copy(out, m.registered)
	return out, nil
}

// Stop unregisters every subscription. It is a no-op when not started.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	m.active = false
	m.registered = nil

	if err := m.svc.UnregisterAll(); err != nil {
		return fmt.Errorf("failed to unregister sensors: %w", err)
	}
	return nil
}

// Registered returns the sensors registered by the last Start
func (m *Manager) Registered() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Descriptor, len(m.registered))
	copy(out, m.registered)
	return out
}

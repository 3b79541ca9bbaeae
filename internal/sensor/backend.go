package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tangym/sensorlog/internal/config"
)

// BackendType names a sensor service implementation
type BackendType string

const (
	BackendTypeIIO       BackendType = "iio"
	BackendTypeSimulated BackendType = "simulated"
	BackendTypeAuto      BackendType = "auto"
)

// NewService returns the sensor service selected by cfg. It returns a nil
// Service (and no error) when auto-detection finds no sensor service, so
// that the session start reports ErrNoSensorService.
func NewService(cfg *config.Config) (Service, error) {
	switch BackendType(cfg.Sensors.Backend) {
	case BackendTypeIIO:
		return NewIIO(cfg.Sensors.IIORoot), nil
	case BackendTypeSimulated:
		return NewSimulated(DefaultSimulatedSensors()), nil
	case BackendTypeAuto, "":
		iio := NewIIO(cfg.Sensors.IIORoot)
		if iio.Available() {
			return iio, nil
		}
		slog.Debug("No IIO sensor tree found", "root", cfg.Sensors.IIORoot)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sensor backend: %s", cfg.Sensors.Backend)
	}
}

// PolicyFromConfig builds the registration policy from cfg
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		FastestType: cfg.Sensors.FastestType,
		Intervals: map[Rate]time.Duration{
			RateFastest: cfg.Sensors.FastestInterval,
			RateGame:    cfg.Sensors.GameInterval,
			RateUI:      cfg.Sensors.UIInterval,
			RateNormal:  cfg.Sensors.NormalInterval,
		},
	}
}

package sensor

import (
	"fmt"
	"math"
	"time"
)

// Simulated is a sensor service producing synthetic waveforms, used when
// running without sensor hardware.
type Simulated struct {
	sensors []Descriptor
	polls   *pollGroup
	start   time.Time
}

// DefaultSimulatedSensors is the sensor set reported by a bare simulated service
func DefaultSimulatedSensors() []Descriptor {
	return []Descriptor{
		{ID: "sim-accel", Type: TypeAccelerometer, TypeName: TypeString(TypeAccelerometer), Name: "Simulated Accelerometer", Resolution: 0.01, Power: 0.5},
		{ID: "sim-gyro", Type: TypeGyroscope, TypeName: TypeString(TypeGyroscope), Name: "Simulated Gyroscope", Resolution: 0.01, Power: 0.5},
		{ID: "sim-rotation", Type: TypeRotationVector, TypeName: TypeString(TypeRotationVector), Name: "Simulated Rotation Vector", Resolution: 0.001, Power: 1.0},
		{ID: "sim-heart", Type: TypeHeartRate, TypeName: TypeString(TypeHeartRate), Name: "Simulated Heart Rate", Resolution: 1, Power: 0.1},
	}
}

// NewSimulated creates a simulated service reporting sensors in the given order
func NewSimulated(sensors []Descriptor) *Simulated {
	return &Simulated{sensors: sensors, polls: newPollGroup(nil), start: time.Now()}
}

func (s *Simulated) List() ([]Descriptor, error) {
	out := make([]Descriptor, len(s.sensors))
	copy(out, s.sensors)
	return out, nil
}

func (s *Simulated) Register(d Descriptor, interval time.Duration, events chan<- Sample) error {
	found := false
	for _, known := range s.sensors {
		if known.ID == d.ID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown simulated sensor: %s", d.ID)
	}

	arity := Arity(d.Type)
	phase := float64(d.Type)
	s.polls.add(d, interval, events, func() ([]float32, int, error) {
		elapsed := time.Since(s.start).Seconds()

		values := make([]float32, arity)
		for i := range values {
			values[i] = float32(math.Sin(2*math.Pi*elapsed+phase+float64(i)*math.Pi/2) * d.Resolution * 100)
		}
		return values, AccuracyHigh, nil
	})
	return nil
}

func (s *Simulated) UnregisterAll() error {
	return s.polls.stopAll()
}

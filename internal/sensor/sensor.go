// Package sensor enumerates platform sensors and subscribes to their readings.
package sensor

import (
	"errors"
	"time"
)

// ErrNoSensorService is returned when the platform offers no sensor service at all.
// A service that exists but reports zero sensors is not an error.
var ErrNoSensorService = errors.New("no sensor service available")

// Descriptor is immutable metadata about one sensor
type Descriptor struct {
	ID         string  `yaml:"-"` // backend handle, never persisted
	Type       int     `yaml:"type"`
	TypeName   string  `yaml:"type_name"`
	Name       string  `yaml:"name"`
	Resolution float64 `yaml:"resolution"`
	Power      float64 `yaml:"power"`
}

// Sample is one reading delivered by a registered sensor
type Sample struct {
	TypeName string
	Time     time.Time
	Accuracy int
	Values   []float32
}

// Accuracy codes reported with each sample
const (
	AccuracyUnreliable = 0
	AccuracyLow        = 1
	AccuracyMedium     = 2
	AccuracyHigh       = 3
)

// Service is a platform sensor service. Register delivers samples for d onto
// events until UnregisterAll returns; after that no further sends happen.
type Service interface {
	List() ([]Descriptor, error)
	Register(d Descriptor, interval time.Duration, events chan<- Sample) error
	UnregisterAll() error
}

// Well-known type codes
const (
	TypeAccelerometer    = 1
	TypeMagneticField    = 2
	TypeOrientation      = 3
	TypeGyroscope        = 4
	TypeLight            = 5
	TypePressure         = 6
	TypeProximity        = 8
	TypeGravity          = 9
	TypeLinearAccel      = 10
	TypeRotationVector   = 11
	TypeRelativeHumidity = 12
	TypeAmbientTemp      = 13
	TypeGameRotation     = 15
	TypeHeartRate        = 21
)

type typeInfo struct {
	name  string
	arity int
}

var knownTypes = map[int]typeInfo{
	TypeAccelerometer:    {"android.sensor.accelerometer", 3},
	TypeMagneticField:    {"android.sensor.magnetic_field", 3},
	TypeOrientation:      {"android.sensor.orientation", 3},
	TypeGyroscope:        {"android.sensor.gyroscope", 3},
	TypeLight:            {"android.sensor.light", 1},
	TypePressure:         {"android.sensor.pressure", 1},
	TypeProximity:        {"android.sensor.proximity", 1},
	TypeGravity:          {"android.sensor.gravity", 3},
	TypeLinearAccel:      {"android.sensor.linear_acceleration", 3},
	TypeRotationVector:   {"android.sensor.rotation_vector", 4},
	TypeRelativeHumidity: {"android.sensor.relative_humidity", 1},
	TypeAmbientTemp:      {"android.sensor.ambient_temperature", 1},
	TypeGameRotation:     {"android.sensor.game_rotation_vector", 4},
	TypeHeartRate:        {"android.sensor.heart_rate", 1},
}

// TypeString returns the canonical type string for a code
func TypeString(code int) string {
	if info, ok := knownTypes[code]; ok {
		return info.name
	}
	return "unknown"
}

// Arity returns the number of values a sensor of this type reports, or 1 if unknown
func Arity(code int) int {
	if info, ok := knownTypes[code]; ok {
		return info.arity
	}
	return 1
}

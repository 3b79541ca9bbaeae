package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tangym/sensorlog/internal/audio"
	"github.com/tangym/sensorlog/internal/sensor"
	"github.com/tangym/sensorlog/internal/sensorlog"
	"gopkg.in/yaml.v3"
)

// Sidecar is the YAML document written next to the session files. It makes
// the headerless PCM file decodable.
type Sidecar struct {
	SessionID string              `yaml:"session_id"`
	Started   time.Time           `yaml:"started"`
	Stopped   *time.Time          `yaml:"stopped,omitempty"`
	SensorLog string              `yaml:"sensor_log"`
	Audio     AudioMeta           `yaml:"audio"`
	Sensors   []sensor.Descriptor `yaml:"sensors"`
	Records   *sensorlog.Stats    `yaml:"records,omitempty"`
}

// AudioMeta describes the raw PCM file
type AudioMeta struct {
	File         string        `yaml:"file"`
	Backend      string        `yaml:"backend"`
	Encoding     string        `yaml:"encoding"`
	ByteOrder    string        `yaml:"byte_order"`
	SampleRate   int           `yaml:"sample_rate"`
	Channels     int           `yaml:"channels"`
	FrameSamples int           `yaml:"frame_samples"`
	FrameBytes   int           `yaml:"frame_bytes"`
	Result       *audio.Result `yaml:"result,omitempty"`
	Error        string        `yaml:"error,omitempty"`
}

// writeSidecar replaces path atomically with the YAML rendering of sc
func writeSidecar(path string, sc *Sidecar) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("error marshaling session sidecar: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sidecar-*")
	if err != nil {
		return fmt.Errorf("failed to create session sidecar: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save session sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads a sidecar written by a session. YAML documents without a
// session id and start time are rejected.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading session sidecar %s: %w", path, err)
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("error unmarshaling session sidecar %s: %w", path, err)
	}
	if sc.SessionID == "" || sc.Started.IsZero() {
		return nil, fmt.Errorf("%s is not a session sidecar: missing session_id or started", path)
	}
	return &sc, nil
}

package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/tangym/sensorlog/internal/config"
)

// ErrMicrophoneUnavailable is returned when the microphone cannot be opened
// or stops delivering samples before the first frame.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Microphone is an open capture stream. Read blocks until samples are
// available. Close may be called concurrently with a blocked Read.
type Microphone interface {
	io.ReadCloser
}

// Source opens microphones in a given format
type Source interface {
	Open(format Format) (Microphone, error)
	Name() string
}

// BackendType names a microphone backend
type BackendType string

const (
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeALSA      BackendType = "alsa"
	BackendTypeSimulated BackendType = "simulated"
	BackendTypeAuto      BackendType = "auto"
)

// FormatFromConfig builds the capture format from cfg
func FormatFromConfig(cfg *config.Config) (Format, error) {
	enc, err := ParseEncoding(cfg.Audio.Encoding)
	if err != nil {
		return Format{}, err
	}
	return Format{Encoding: enc, SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}, nil
}

// NewSource creates the microphone source selected by cfg. When auto-detection
// finds no capture tool the returned source fails on Open, so the session
// still records sensors and reports the microphone fault.
func NewSource(cfg *config.Config, logWriter io.Writer) Source {
	backendType := determineBackend(cfg)

	switch backendType {
	case BackendTypePipeWire:
		return NewPipeWireSource(cfg.Audio.Device, logWriter)
	case BackendTypeALSA:
		return NewALSASource(cfg.Audio.Device, logWriter)
	case BackendTypeSimulated:
		return NewToneSource(440)
	default:
		return unavailableSource{reason: "no capture tool found (install pw-record or arecord)"}
	}
}

// determineBackend resolves "auto" to the first capture tool found in PATH
func determineBackend(cfg *config.Config) BackendType {
	switch BackendType(strings.ToLower(cfg.Audio.Backend)) {
	case BackendTypePipeWire:
		return BackendTypePipeWire
	case BackendTypeALSA:
		return BackendTypeALSA
	case BackendTypeSimulated:
		return BackendTypeSimulated
	}

	for _, b := range GetAvailableBackends() {
		slog.Debug("Auto-selected audio backend", "backend", b)
		return b
	}
	return ""
}

// GetAvailableBackends returns the hardware backends whose tools are installed
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}
	if _, err := exec.LookPath(pipeWireTool); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	if _, err := exec.LookPath(alsaTool); err == nil {
		backends = append(backends, BackendTypeALSA)
	}
	return backends
}

type unavailableSource struct {
	reason string
}

func (u unavailableSource) Open(Format) (Microphone, error) {
	return nil, fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, u.reason)
}

func (u unavailableSource) Name() string {
	return "unavailable"
}

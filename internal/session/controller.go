// Package session runs recording sessions: it owns the output files and
// starts and stops the sensor and audio pipelines together.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/multierr"

	"github.com/tangym/sensorlog/internal/audio"
	"github.com/tangym/sensorlog/internal/config"
	"github.com/tangym/sensorlog/internal/naming"
	"github.com/tangym/sensorlog/internal/sensor"
	"github.com/tangym/sensorlog/internal/sensorlog"
)

// ErrAlreadyRecording is returned by Start while a session is active
var ErrAlreadyRecording = errors.New("a recording session is already active")

// State is the controller state
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
)

// defaultStopGrace is how long Stop waits for the audio loop's in-flight
// read before closing the microphone under it
const defaultStopGrace = 2 * time.Second

// Options configure a Controller
type Options struct {
	OutputDir      string
	SyncEachRecord bool
	Format         audio.Format
	FrameSamples   int
	QueueSize      int
	Policy         sensor.Policy
	StopGrace      time.Duration
	Now            func() time.Time
}

// OptionsFromConfig maps cfg onto controller options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	format, err := audio.FormatFromConfig(cfg)
	if err != nil {
		return Options{}, err
	}
	return Options{
		OutputDir:      cfg.Output.Directory,
		SyncEachRecord: cfg.Output.SyncEachRecord,
		Format:         format,
		FrameSamples:   cfg.Audio.FrameSamples,
		QueueSize:      cfg.Sensors.QueueSize,
		Policy:         sensor.PolicyFromConfig(cfg),
	}, nil
}

// Info describes the active session
type Info struct {
	ID        string
	StartTime time.Time
	Paths     naming.Paths
	Sensors   []sensor.Descriptor
}

// Summary reports what a finished session persisted
type Summary struct {
	Info
	StopTime time.Time
	Log      sensorlog.Stats
	Audio    audio.Result
}

// Controller is the Idle/Recording state machine. Start and Stop may be
// called from any goroutine.
type Controller struct {
	opts    Options
	sensors sensor.Service
	source  audio.Source
	stamper *naming.Stamper

	mu      sync.Mutex
	state   State
	current *active

	lastError      string
	lastErrorMutex sync.RWMutex
}

// active holds the resources of the running session
type active struct {
	info      Info
	files     *naming.Files
	sidecar   *Sidecar
	recording *atomic.Bool

	log     *sensorlog.Writer
	manager *sensor.Manager
	events  chan sensor.Sample

	writerStop chan struct{}
	writerDone chan error

	loop      *audio.Loop
	audioDone chan struct{}
	audioRes  audio.Result
}

// NewController creates an idle controller. A nil sensors service makes
// every Start fail with sensor.ErrNoSensorService.
func NewController(opts Options, sensors sensor.Service, source audio.Source) *Controller {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Controller{
		opts:    opts,
		sensors: sensors,
		source:  source,
		stamper: naming.NewStamper(opts.Now),
		state:   StateIdle,
	}
}

// New builds a controller with the sensor service and microphone source selected by cfg
func New(cfg *config.Config, logWriter io.Writer) (*Controller, error) {
	if logWriter == nil {
		logWriter = io.Discard
	}

	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := sensor.NewService(cfg)
	if err != nil {
		return nil, err
	}
	return NewController(opts, svc, audio.NewSource(cfg, logWriter)), nil
}

// SetRecording drives the controller from a single on/off control
func (c *Controller) SetRecording(on bool) (*Summary, error) {
	if on {
		_, err := c.Start()
		if errors.Is(err, ErrAlreadyRecording) {
			return nil, nil
		}
		return nil, err
	}
	return c.Stop()
}

// Start transitions Idle -> Recording. It creates the session files, writes
// the sensor log header, registers all sensors and starts the audio loop.
// On failure nothing of the session is left behind and the state stays Idle.
func (c *Controller) Start() (*Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateRecording {
		return nil, ErrAlreadyRecording
	}

	s, err := c.open()
	if err != nil {
		slog.Error("Failed to start recording session", "error", err)
		c.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}
	c.clearLastError()

	c.launch(s)
	c.current = s
	c.state = StateRecording

	slog.Info("Recording session started", "id", s.info.ID, "sensor_log", s.info.Paths.Log,
		"audio", s.info.Paths.Audio, "sensors", len(s.info.Sensors))

	info := c.copyInfo(s)
	return &info, nil
}

// open acquires every session resource, releasing them again on failure
func (c *Controller) open() (*active, error) {
	if c.sensors == nil {
		return nil, sensor.ErrNoSensorService
	}

	files, err := c.stamper.Claim(c.opts.OutputDir, c.opts.Format.FileSuffix())
	if err != nil {
		return nil, err
	}

	s := &active{
		files:      files,
		recording:  &atomic.Bool{},
		log:        sensorlog.NewWriter(files.Log, c.opts.SyncEachRecord),
		manager:    sensor.NewManager(c.sensors, c.opts.Policy),
		events:     make(chan sensor.Sample, c.opts.QueueSize),
		writerStop: make(chan struct{}),
		writerDone: make(chan error, 1),
		audioDone:  make(chan struct{}),
	}
	s.info = Info{
		ID:        uuid.New().String(),
		StartTime: files.Start,
		Paths:     files.Paths,
	}

	if err := s.log.WriteHeader(); err != nil {
		files.Discard()
		return nil, fmt.Errorf("failed to write sensor log header: %w", err)
	}

	sensors, err := s.manager.Start(s.log, s.events)
	if err != nil {
		files.Discard()
		return nil, err
	}
	s.info.Sensors = sensors

	_, order := audio.NativeByteOrder()
	s.sidecar = &Sidecar{
		SessionID: s.info.ID,
		Started:   s.info.StartTime,
		SensorLog: filepath.Base(files.Paths.Log),
		Audio: AudioMeta{
			File:         filepath.Base(files.Paths.Audio),
			Backend:      c.source.Name(),
			Encoding:     string(c.opts.Format.Encoding),
			ByteOrder:    order,
			SampleRate:   c.opts.Format.SampleRate,
			Channels:     c.opts.Format.Channels,
			FrameSamples: c.opts.FrameSamples,
			FrameBytes:   c.opts.Format.FrameBytes(c.opts.FrameSamples),
		},
		Sensors: sensors,
	}
	if err := writeSidecar(files.Paths.Sidecar, s.sidecar); err != nil {
		if serr := s.manager.Stop(); serr != nil {
			slog.Warn("Failed to release sensors", "error", serr)
		}
		files.Discard()
		return nil, err
	}

	return s, nil
}

// launch starts the sensor writer task and the audio loop. Panics in either
// are recovered and reported instead of crashing the process.
func (c *Controller) launch(s *active) {
	s.recording.Store(true)

	go func() {
		var pc panics.Catcher
		pc.Try(func() { s.log.Run(s.events, s.writerStop) })
		if r := pc.Recovered(); r != nil {
			slog.Error("Sensor writer panicked", "panic", r.String())
			s.writerDone <- fmt.Errorf("sensor writer panicked: %w", r.AsError())
		}
		close(s.writerDone)
	}()

	s.loop = audio.NewLoop(c.source, c.opts.Format, c.opts.FrameSamples, s.files.Audio, s.recording)
	go func() {
		defer close(s.audioDone)
		var res audio.Result
		var pc panics.Catcher
		pc.Try(func() { res = s.loop.Run() })
		if r := pc.Recovered(); r != nil {
			slog.Error("Audio capture panicked", "panic", r.String())
			res.Err = fmt.Errorf("audio capture panicked: %w", r.AsError())
		}
		if res.Err != nil {
			c.setLastError(fmt.Sprintf("Audio capture failed: %v", res.Err))
		}
		s.audioRes = res
	}()
}

// Stop transitions Recording -> Idle: it clears the capture flag, unregisters
// the sensors, waits for both writers and closes the files. Every release
// step runs even if an earlier one fails; the failures are combined in the
// returned error. Stop while Idle is a no-op returning a nil summary.
func (c *Controller) Stop() (*Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording || c.current == nil {
		return nil, nil
	}
	s := c.current
	var errs error

	s.recording.Store(false)

	if err := s.manager.Stop(); err != nil {
		errs = multierr.Append(errs, err)
	}

	close(s.writerStop)
	for err := range s.writerDone {
		errs = multierr.Append(errs, err)
	}

	select {
	case <-s.audioDone:
	case <-time.After(c.opts.StopGrace):
		slog.Warn("Audio capture did not finish its last frame in time, closing microphone", "grace", c.opts.StopGrace)
		s.loop.Interrupt()
		<-s.audioDone
	}

	if err := s.log.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	summary := &Summary{
		Info:     c.copyInfo(s),
		StopTime: time.Now(),
		Log:      s.log.Stats(),
		Audio:    s.audioRes,
	}

	stopped := summary.StopTime
	stats := summary.Log
	audioRes := summary.Audio
	s.sidecar.Stopped = &stopped
	s.sidecar.Records = &stats
	s.sidecar.Audio.Result = &audioRes
	if audioRes.Err != nil {
		s.sidecar.Audio.Error = audioRes.Err.Error()
	}
	if err := writeSidecar(s.info.Paths.Sidecar, s.sidecar); err != nil {
		errs = multierr.Append(errs, err)
	}

	c.current = nil
	c.state = StateIdle

	if errs != nil {
		slog.Error("Recording session stopped with errors", "id", s.info.ID, "error", errs)
		c.setLastError(fmt.Sprintf("Failed to stop recording cleanly: %v", errs))
	} else {
		slog.Info("Recording session stopped", "id", s.info.ID, "records", stats.Records,
			"dropped", stats.Dropped, "audio_bytes", audioRes.Bytes)
	}
	return summary, errs
}

// State returns the current state and, while recording, the session info
func (c *Controller) State() (State, *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return c.state, nil
	}
	info := c.copyInfo(c.current)
	return c.state, &info
}

// AudioErr returns the audio fault of the active session once its capture
// loop has ended on one, and nil otherwise
func (c *Controller) AudioErr() error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.audioDone:
		return s.audioRes.Err
	default:
		return nil
	}
}

// LastError returns the most recent failure message, empty if none
func (c *Controller) LastError() string {
	c.lastErrorMutex.RLock()
	defer c.lastErrorMutex.RUnlock()
	return c.lastError
}

func (c *Controller) setLastError(msg string) {
	c.lastErrorMutex.Lock()
	defer c.lastErrorMutex.Unlock()
	c.lastError = msg
}

func (c *Controller) clearLastError() {
	c.lastErrorMutex.Lock()
	defer c.lastErrorMutex.Unlock()
	c.lastError = ""
}

func (c *Controller) copyInfo(s *active) Info {
	info := s.info
	info.Sensors = make([]sensor.Descriptor, len(s.info.Sensors))
	copy(info.Sensors, s.info.Sensors)
	return info
}

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// ToneSource is a simulated microphone producing a sine tone paced at the
// real sample rate, for running without capture hardware.
type ToneSource struct {
	Frequency float64
}

// NewToneSource creates a tone source at freq Hz
func NewToneSource(freq float64) *ToneSource {
	return &ToneSource{Frequency: freq}
}

func (s *ToneSource) Name() string {
	return string(BackendTypeSimulated)
}

func (s *ToneSource) Open(format Format) (Microphone, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid format %s", ErrMicrophoneUnavailable, format)
	}
	order, _ := NativeByteOrder()
	return &toneMic{
		format: format,
		freq:   s.Frequency,
		order:  order,
		start:  time.Now(),
		closed: make(chan struct{}),
	}, nil
}

type toneMic struct {
	format Format
	freq   float64
	order  binary.ByteOrder
	start  time.Time

	produced  int64 // samples per channel
	closeOnce sync.Once
	closed    chan struct{}
}

// Read fills p with whole samples, blocking until they are due
func (m *toneMic) Read(p []byte) (int, error) {
	width := m.format.Encoding.BytesPerSample() * m.format.Channels
	count := len(p) / width
	if count == 0 {
		return 0, io.ErrShortBuffer
	}

	due := m.start.Add(time.Duration(m.produced+int64(count)) * time.Second / time.Duration(m.format.SampleRate))
	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-m.closed:
		return 0, io.EOF
	case <-timer.C:
	}

	off := 0
	for i := 0; i < count; i++ {
		t := float64(m.produced+int64(i)) / float64(m.format.SampleRate)
		v := 0.5 * math.Sin(2*math.Pi*m.freq*t)
		for c := 0; c < m.format.Channels; c++ {
			switch m.format.Encoding {
			case EncodingF32:
				m.order.PutUint32(p[off:], math.Float32bits(float32(v)))
				off += 4
			default:
				m.order.PutUint16(p[off:], uint16(int16(v*math.MaxInt16)))
				off += 2
			}
		}
	}
	m.produced += int64(count)
	return off, nil
}

func (m *toneMic) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

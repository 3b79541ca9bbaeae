package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Result summarizes one run of a capture loop
type Result struct {
	Frames  int64 `yaml:"frames"`
	Bytes   int64 `yaml:"bytes"`
	Dropped int64 `yaml:"dropped_frames"`
	Err     error `yaml:"-"`
}

// truncater is implemented by *os.File
type truncater interface {
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

// Loop pulls fixed-size frames from a microphone and appends them to out for
// as long as the shared recording flag is set.
type Loop struct {
	source       Source
	format       Format
	frameSamples int
	out          io.WriteCloser
	recording    *atomic.Bool

	mu          sync.Mutex
	mic         Microphone
	interrupted bool
}

// NewLoop creates a capture loop writing to out. recording is the capture
// flag shared with the caller; the loop only reads it.
func NewLoop(source Source, format Format, frameSamples int, out io.WriteCloser, recording *atomic.Bool) *Loop {
	return &Loop{
		source:       source,
		format:       format,
		frameSamples: frameSamples,
		out:          out,
		recording:    recording,
	}
}

// FrameBytes is the size of every frame the loop writes
func (l *Loop) FrameBytes() int {
	return l.format.FrameBytes(l.frameSamples)
}

// Run captures until the recording flag is cleared, then closes the
// microphone and out. A frame whose read started before the flag was cleared
// is still written. If the microphone cannot be opened or fails before the
// first frame, Run returns immediately with ErrMicrophoneUnavailable.
func (l *Loop) Run() Result {
	var res Result
	defer func() {
		if err := l.out.Close(); err != nil {
			slog.Warn("Failed to close audio file", "error", err)
			if res.Err == nil {
				res.Err = fmt.Errorf("failed to close audio file: %w", err)
			}
		}
	}()

	mic, err := l.source.Open(l.format)
	if err != nil {
		if !errors.Is(err, ErrMicrophoneUnavailable) {
			err = fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
		}
		slog.Error("Microphone could not be opened", "backend", l.source.Name(), "error", err)
		res.Err = err
		return res
	}
	if !l.attach(mic) {
		mic.Close()
		return res
	}
	defer l.detach()

	slog.Info("Audio capture started", "backend", l.source.Name(), "format", l.format.String(), "frame_bytes", l.FrameBytes())

	buf := make([]byte, l.FrameBytes())
	for l.recording.Load() {
		if _, err := io.ReadFull(mic, buf); err != nil {
			if !l.recording.Load() || l.wasInterrupted() {
				// Stopped while the read was blocked; the partial frame is discarded
				break
			}
			if res.Frames == 0 && res.Dropped == 0 {
				res.Err = fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
			} else {
				res.Err = fmt.Errorf("microphone read failed: %w", err)
			}
			slog.Error("Audio capture stopped on read fault", "error", res.Err)
			break
		}

		if err := l.writeFrame(buf, res.Bytes); err != nil {
			res.Dropped++
			slog.Warn("Dropped audio frame", "error", err)
			continue
		}
		res.Frames++
		res.Bytes += int64(len(buf))
	}

	slog.Info("Audio capture stopped", "frames", res.Frames, "bytes", res.Bytes, "dropped", res.Dropped)
	return res
}

// writeFrame appends frame, rolling a partial write back to offset so the
// file only ever holds whole frames
func (l *Loop) writeFrame(frame []byte, offset int64) error {
	n, err := l.out.Write(frame)
	if err == nil {
		return nil
	}
	if n > 0 {
		if t, ok := l.out.(truncater); ok {
			if terr := t.Truncate(offset); terr == nil {
				t.Seek(offset, io.SeekStart)
			} else {
				slog.Warn("Failed to roll back partial audio frame", "error", terr)
			}
		}
	}
	return err
}

// Interrupt closes the microphone so a read blocked on a stalled device
// returns. Call it only after clearing the recording flag.
func (l *Loop) Interrupt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interrupted = true
	if l.mic != nil {
		l.mic.Close()
	}
}

func (l *Loop) attach(mic Microphone) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.interrupted {
		return false
	}
	l.mic = mic
	return true
}

func (l *Loop) detach() {
	l.mu.Lock()
	mic := l.mic
	l.mic = nil
	l.mu.Unlock()

	if mic != nil {
		if err := mic.Close(); err != nil {
			slog.Warn("Failed to close microphone", "error", err)
		}
	}
}

func (l *Loop) wasInterrupted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}

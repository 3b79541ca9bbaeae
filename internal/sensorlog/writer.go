package sensorlog

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tangym/sensorlog/internal/sensor"
)

type syncer interface {
	Sync() error
}

// truncater is implemented by *os.File
type truncater interface {
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

type lineKind int

const (
	lineHeader lineKind = iota
	lineDescriptor
	lineSample
)

// Stats counts what a Writer has persisted
type Stats struct {
	Descriptors int `yaml:"descriptors"`
	Records     int `yaml:"records"`
	Dropped     int `yaml:"dropped"`
}

// Writer appends header and data records to a sensor log. Every append goes
// straight to the underlying file and appends are serialized, so records
// from concurrent producers never interleave within a line. A short write is
// truncated back to the last whole line; if the file cannot be truncated the
// rest of the torn line is written before the next record.
type Writer struct {
	mu       sync.Mutex
	out      io.WriteCloser
	sync     bool
	closed   bool
	offset   int64
	torn     []byte
	tornKind lineKind
	stats    Stats
}

// NewWriter wraps out. With syncEach set, records are also fsynced when out supports it.
func NewWriter(out io.WriteCloser, syncEach bool) *Writer {
	w := &Writer{
		out:  out,
		sync: syncEach,
	}
	if s, ok := out.(io.Seeker); ok {
		if off, err := s.Seek(0, io.SeekCurrent); err == nil {
			w.offset = off
		}
	}
	return w
}

// WriteHeader writes the fixed parsing-hint lines
func (w *Writer) WriteHeader() error {
	for _, line := range HeaderLines {
		if err := w.appendLine(line, lineHeader); err != nil {
			return err
		}
	}
	return nil
}

// WriteDescriptor writes one "## Sensor found" record
func (w *Writer) WriteDescriptor(d sensor.Descriptor) error {
	return w.appendLine(FormatDescriptor(d), lineDescriptor)
}

// WriteSample appends one data record. A failed write is counted as dropped.
func (w *Writer) WriteSample(s sensor.Sample) error {
	return w.appendLine(FormatSample(s), lineSample)
}

// Run consumes events until stop is closed, then writes whatever is still
// queued and returns. It also returns if events is closed. Write faults are
// logged and the record dropped; consumption continues.
func (w *Writer) Run(events <-chan sensor.Sample, stop <-chan struct{}) {
	for {
		select {
		case s, ok := <-events:
			if !ok {
				return
			}
			w.consume(s)
		case <-stop:
			for {
				select {
				case s, ok := <-events:
					if !ok {
						return
					}
					w.consume(s)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) consume(s sensor.Sample) {
	if err := w.WriteSample(s); err != nil {
		slog.Warn("Dropped sensor record", "type", s.TypeName, "error", err)
	}
}

func (w *Writer) appendLine(line string, kind lineKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("sensor log is closed")
	}

	if err := w.finishTorn(); err != nil {
		w.count(kind, false)
		return fmt.Errorf("failed to append record: %w", err)
	}

	data := []byte(line + "\n")
	n, err := w.out.Write(data)
	if err != nil {
		if n > 0 {
			w.tear(data, n)
			w.tornKind = kind
		}
		w.count(kind, false)
		return fmt.Errorf("failed to append record: %w", err)
	}
	w.offset += int64(n)
	w.count(kind, true)

	if w.sync {
		if s, ok := w.out.(syncer); ok {
			if err := s.Sync(); err != nil {
				slog.Warn("Failed to sync sensor log", "error", err)
			}
		}
	}
	return nil
}

// tear handles a write that stopped after n bytes of data. The partial line
// is truncated away when possible, otherwise its remainder is kept for
// finishTorn.
func (w *Writer) tear(data []byte, n int) {
	if t, ok := w.out.(truncater); ok {
		err := t.Truncate(w.offset)
		if err == nil {
			if _, err := t.Seek(w.offset, io.SeekStart); err != nil {
				slog.Warn("Failed to rewind sensor log after rollback", "error", err)
			}
			return
		}
		slog.Warn("Failed to roll back partial sensor record", "error", err)
	}
	w.offset += int64(n)
	w.torn = append([]byte(nil), data[n:]...)
}

// finishTorn completes a line left torn by an earlier short write. The
// completed record moves from dropped to persisted.
func (w *Writer) finishTorn() error {
	if len(w.torn) == 0 {
		return nil
	}
	n, err := w.out.Write(w.torn)
	w.offset += int64(n)
	w.torn = w.torn[n:]
	if err != nil {
		return err
	}
	w.torn = nil
	w.count(w.tornKind, true)
	if w.tornKind == lineSample {
		w.stats.Dropped--
	}
	return nil
}

func (w *Writer) count(kind lineKind, ok bool) {
	switch {
	case kind == lineSample && ok:
		w.stats.Records++
	case kind == lineSample:
		w.stats.Dropped++
	case kind == lineDescriptor && ok:
		w.stats.Descriptors++
	}
}

// Stats returns a snapshot of the counters
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Close closes the underlying file. Later appends fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.out.Close(); err != nil {
		return fmt.Errorf("failed to close sensor log: %w", err)
	}
	return nil
}

package sensorlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tangym/sensorlog/internal/sensor"
)

type bufferCloser struct {
	bytes.Buffer
	closed int
}

func (b *bufferCloser) Close() error {
	b.closed++
	return nil
}

// failingWriter rejects writes while failing is set
type failingWriter struct {
	bufferCloser
	failing bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.failing {
		return 0, errors.New("disk full")
	}
	return f.bufferCloser.Write(p)
}

// shortFile writes half of the next buffer to the file, then fails once
type shortFile struct {
	*os.File
	short bool
}

func (f *shortFile) Write(p []byte) (int, error) {
	if f.short {
		f.short = false
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

// shortBuffer is shortFile without truncation support
type shortBuffer struct {
	bufferCloser
	short bool
}

func (b *shortBuffer) Write(p []byte) (int, error) {
	if b.short {
		b.short = false
		n, _ := b.bufferCloser.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return b.bufferCloser.Write(p)
}

func sampleAt(typeName string, values ...float32) sensor.Sample {
	return sensor.Sample{
		TypeName: typeName,
		Time:     time.Date(2024, time.March, 5, 7, 8, 9, 123*int(time.Millisecond), time.Local),
		Accuracy: sensor.AccuracyHigh,
		Values:   values,
	}
}

func TestFormatSample(t *testing.T) {
	got := FormatSample(sampleAt("android.sensor.accelerometer", 0.5, -9.81, 3))
	want := "android.sensor.accelerometer, 20240305070809123, 3, 0.5, -9.81, 3"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestFormatDescriptor(t *testing.T) {
	got := FormatDescriptor(sensor.Descriptor{TypeName: "accelerometer", Name: "Accel", Type: 1, Resolution: 0.01, Power: 0.5})
	want := "## Sensor found: (accelerometer, Accel, 1, 0.010000, 0.500000)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	d, err := ParseDescriptor(got)
	if err != nil {
		t.Fatalf("Expected descriptor to parse, got: %v", err)
	}
	if d.TypeName != "accelerometer" || d.Name != "Accel" || d.Type != 1 || d.Resolution != 0.01 || d.Power != 0.5 {
		t.Errorf("Descriptor did not round-trip: %+v", d)
	}
}

func TestFormatDescriptor_MultiLineName(t *testing.T) {
	line := FormatDescriptor(sensor.Descriptor{TypeName: "## light,\nsensor", Name: "ALS\r\n## injected", Type: 5})
	if strings.ContainsAny(line, "\r\n") {
		t.Fatalf("Expected a single header line, got %q", line)
	}

	out := &bufferCloser{}
	w := NewWriter(out, false)
	if err := w.WriteDescriptor(sensor.Descriptor{TypeName: "light", Name: "ALS\nrev 2", Type: 5}); err != nil {
		t.Fatal(err)
	}
	log, err := Read(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Expected header to parse, got: %v", err)
	}
	if len(log.Sensors) != 1 || log.Sensors[0].Name != "ALS rev 2" || len(log.Records) != 0 {
		t.Errorf("Unexpected log: %+v", log)
	}

	d, err := ParseDescriptor(line)
	if err != nil {
		t.Fatal(err)
	}
	if d.TypeName != "light; sensor" || d.Name != "ALS ## injected" {
		t.Errorf("Unexpected descriptor: %+v", d)
	}
}

func TestParseDescriptor_NameWithSeparator(t *testing.T) {
	d, err := ParseDescriptor("## Sensor found: (gyroscope, BMI160, rev 2, 4, 0.001000, 0.900000)")
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "BMI160, rev 2" || d.Type != 4 {
		t.Errorf("Unexpected descriptor: %+v", d)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	samples := []sensor.Sample{
		sampleAt("android.sensor.gyroscope", 0.001, 1e-7, 12345.678),
		sampleAt("android.sensor.light", 250),
		sampleAt("android.sensor.rotation_vector", -0.25, 0.5, 0.75, 1, 0.01, -3.5),
	}

	for _, s := range samples {
		line := FormatSample(s)
		if IsComment(line) {
			t.Errorf("Data line must not start with the comment marker: %q", line)
		}
		if n := len(strings.Split(line, Separator)); n != 3+len(s.Values) {
			t.Errorf("Expected arity %d, got %d for %q", 3+len(s.Values), n, line)
		}

		rec, err := ParseRecord(line)
		if err != nil {
			t.Fatalf("Expected %q to parse, got: %v", line, err)
		}
		if rec.TypeName != s.TypeName || rec.Accuracy != s.Accuracy || !rec.Time.Equal(s.Time) {
			t.Errorf("Fields did not round-trip: %+v vs %+v", rec, s)
		}
		if len(rec.Values) != len(s.Values) {
			t.Fatalf("Expected %d values, got %d", len(s.Values), len(rec.Values))
		}
		for i := range s.Values {
			if rec.Values[i] != s.Values[i] {
				t.Errorf("Value %d: expected %v, got %v", i, s.Values[i], rec.Values[i])
			}
		}
	}
}

func TestFormatSample_HostileTypeName(t *testing.T) {
	line := FormatSample(sampleAt("## evil, type", 1))
	if IsComment(line) {
		t.Errorf("Expected comment marker to be stripped, got %q", line)
	}
	if n := len(strings.Split(line, Separator)); n != 4 {
		t.Errorf("Expected separator in type to be neutralized, got %d fields in %q", n, line)
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	for _, line := range []string{
		"only, two",
		"type, 2024, 3, 1.0",
		"type, 20240305070809123, high, 1.0",
		"type, 20240305070809123, 3, abc",
	} {
		if _, err := ParseRecord(line); err == nil {
			t.Errorf("Expected error for %q", line)
		}
	}
}

func TestWriter_HeaderThenRecords(t *testing.T) {
	out := &bufferCloser{}
	w := NewWriter(out, false)

	if err := w.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	w.WriteDescriptor(sensor.Descriptor{TypeName: "accelerometer", Name: "Accel", Type: 1})

	events := make(chan sensor.Sample, 2)
	events <- sampleAt("accelerometer", 1, 2, 3)
	events <- sampleAt("accelerometer", 4, 5, 6)
	close(events)
	w.Run(events, nil)

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if out.closed != 1 {
		t.Errorf("Expected underlying writer closed once, got %d", out.closed)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected 5 lines, got %d: %q", len(lines), lines)
	}
	for i := 0; i < 3; i++ {
		if !IsComment(lines[i]) {
			t.Errorf("Line %d: expected header, got %q", i, lines[i])
		}
	}

	stats := w.Stats()
	if stats.Descriptors != 1 || stats.Records != 2 || stats.Dropped != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestWriter_FlushesEachRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(f, true)
	defer w.Close()

	if err := w.WriteSample(sampleAt("light", 100)); err != nil {
		t.Fatal(err)
	}

	// Visible on disk without Close
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "light, ") {
		t.Errorf("Expected record on disk after write, got %q", data)
	}
}

func TestWriter_TransientFaultDropsRecordOnly(t *testing.T) {
	out := &failingWriter{}
	w := NewWriter(out, false)

	w.WriteSample(sampleAt("light", 1))
	out.failing = true
	if err := w.WriteSample(sampleAt("light", 2)); err == nil {
		t.Error("Expected write error while failing")
	}
	out.failing = false
	if err := w.WriteSample(sampleAt("light", 3)); err != nil {
		t.Errorf("Expected writer to recover after fault, got: %v", err)
	}

	stats := w.Stats()
	if stats.Records != 2 || stats.Dropped != 1 {
		t.Errorf("Expected 2 records and 1 dropped, got %+v", stats)
	}

	log, err := Read(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Expected log to stay parseable, got: %v", err)
	}
	if len(log.Records) != 2 || log.Records[1].Values[0] != 3 {
		t.Errorf("Unexpected records after fault: %+v", log.Records)
	}
}

func TestWriter_ShortWriteIsRolledBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	out := &shortFile{File: f}
	w := NewWriter(out, false)

	if err := w.WriteSample(sampleAt("light", 1)); err != nil {
		t.Fatal(err)
	}
	out.short = true
	if err := w.WriteSample(sampleAt("light", 2)); err == nil {
		t.Error("Expected short write to fail")
	}
	if err := w.WriteSample(sampleAt("light", 3)); err != nil {
		t.Errorf("Expected writer to recover after short write, got: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	stats := w.Stats()
	if stats.Records != 2 || stats.Dropped != 1 {
		t.Errorf("Expected 2 records and 1 dropped, got %+v", stats)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	log, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected log to stay parseable, got: %v\n%s", err, data)
	}
	if len(log.Records) != 2 || log.Records[0].Values[0] != 1 || log.Records[1].Values[0] != 3 {
		t.Errorf("Unexpected records after short write: %+v", log.Records)
	}
}

func TestWriter_ShortWriteWithoutTruncateFinishesLine(t *testing.T) {
	out := &shortBuffer{}
	w := NewWriter(out, false)

	w.WriteSample(sampleAt("light", 1))
	out.short = true
	if err := w.WriteSample(sampleAt("light", 2)); err == nil {
		t.Error("Expected short write to fail")
	}
	if err := w.WriteSample(sampleAt("light", 3)); err != nil {
		t.Errorf("Expected writer to recover after short write, got: %v", err)
	}

	log, err := Read(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Expected log to stay parseable, got: %v\n%s", err, out.String())
	}
	if len(log.Records) != 3 {
		t.Fatalf("Expected 3 whole records, got %d: %q", len(log.Records), out.String())
	}
	for i, rec := range log.Records {
		if len(rec.Values) != 1 || rec.Values[0] != float32(i+1) {
			t.Errorf("Record %d corrupted: %+v", i, rec)
		}
	}

	// The torn record landed once its tail was written
	stats := w.Stats()
	if stats.Records != 3 || stats.Dropped != 0 {
		t.Errorf("Expected 3 records and 0 dropped, got %+v", stats)
	}
}

func TestWriter_ConcurrentAppendsStayIntact(t *testing.T) {
	out := &bufferCloser{}
	w := NewWriter(out, false)

	const producers = 8
	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			name := fmt.Sprintf("sensor%d", p)
			for i := 0; i < perProducer; i++ {
				w.WriteSample(sampleAt(name, float32(i), float32(p), 1.5))
			}
		}(p)
	}
	wg.Wait()
	w.Close()

	log, err := Read(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Expected intact log, got: %v", err)
	}
	if len(log.Records) != producers*perProducer {
		t.Fatalf("Expected %d records, got %d", producers*perProducer, len(log.Records))
	}

	// Per-producer order is preserved
	next := make(map[string]float32)
	for _, rec := range log.Records {
		if len(rec.Values) != 3 {
			t.Fatalf("Corrupted record: %+v", rec)
		}
		if rec.Values[0] != next[rec.TypeName] {
			t.Errorf("%s: expected value %v, got %v", rec.TypeName, next[rec.TypeName], rec.Values[0])
		}
		next[rec.TypeName] = rec.Values[0] + 1
	}
}

func TestWriter_RunDrainsQueueOnStop(t *testing.T) {
	out := &bufferCloser{}
	w := NewWriter(out, false)

	events := make(chan sensor.Sample, 3)
	for i := 0; i < 3; i++ {
		events <- sampleAt("light", float32(i))
	}
	stop := make(chan struct{})
	close(stop)

	done := make(chan struct{})
	go func() {
		w.Run(events, stop)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop")
	}
	if got := w.Stats().Records; got != 3 {
		t.Errorf("Expected queued records to be written, got %d", got)
	}
}

func TestWriter_AppendAfterClose(t *testing.T) {
	w := NewWriter(&bufferCloser{}, false)
	w.Close()

	if err := w.WriteSample(sampleAt("light", 1)); err == nil {
		t.Error("Expected error writing to closed log")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got: %v", err)
	}
}

func TestRead_SkipsComments(t *testing.T) {
	input := strings.Join([]string{
		HeaderLines[0],
		HeaderLines[1],
		"## Sensor found: (accelerometer, Accel, 1, 0.010000, 0.500000)",
		"## Sensor found: (gyroscope, Gyro, 4, 0.010000, 0.500000)",
		"accelerometer, 20240305070809123, 3, 1, 2, 3",
		"## free-form comment",
		"gyroscope, 20240305070809124, 2, 0.1, 0.2, 0.3",
		"",
	}, "\n")

	log, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(log.Sensors) != 2 || log.Sensors[1].Name != "Gyro" {
		t.Errorf("Unexpected sensors: %+v", log.Sensors)
	}
	if len(log.Records) != 2 || log.Records[1].Accuracy != 2 {
		t.Errorf("Unexpected records: %+v", log.Records)
	}
}

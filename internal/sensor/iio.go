package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// iioChannel maps an IIO channel group to a sensor type
type iioChannel struct {
	group string
	code  int
	axes  []string // nil for scalar channels
}

// Order here is the order groups of one device are enumerated in
var iioChannels = []iioChannel{
	{group: "accel", code: TypeAccelerometer, axes: []string{"x", "y", "z"}},
	{group: "magn", code: TypeMagneticField, axes: []string{"x", "y", "z"}},
	{group: "incli", code: TypeOrientation, axes: []string{"x", "y", "z"}},
	{group: "anglvel", code: TypeGyroscope, axes: []string{"x", "y", "z"}},
	{group: "illuminance", code: TypeLight},
	{group: "pressure", code: TypePressure},
	{group: "proximity", code: TypeProximity},
	{group: "gravity", code: TypeGravity, axes: []string{"x", "y", "z"}},
	{group: "rot", code: TypeRotationVector},
	{group: "humidityrelative", code: TypeRelativeHumidity},
	{group: "temp", code: TypeAmbientTemp},
	{group: "heartrate", code: TypeHeartRate},
}

// IIO reads sensors from the Linux Industrial I/O sysfs tree
type IIO struct {
	root  string
	polls *pollGroup
}

// NewIIO creates an IIO service rooted at root (normally /sys/bus/iio/devices)
func NewIIO(root string) *IIO {
	return &IIO{root: root, polls: newPollGroup(nil)}
}

// Available reports whether the IIO tree exists
func (s *IIO) Available() bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

// List returns one descriptor per channel group found on each device
func (s *IIO) List() ([]Descriptor, error) {
	if !s.Available() {
		return nil, fmt.Errorf("%w: %s not found", ErrNoSensorService, s.root)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.root, err)
	}

	var devices []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "iio:device") {
			devices = append(devices, e.Name())
		}
	}
	sort.Strings(devices)

	var out []Descriptor
	for _, dev := range devices {
		dir := filepath.Join(s.root, dev)
		devName := readTrimmed(filepath.Join(dir, "name"))
		if devName == "" {
			devName = dev
		}

		for _, ch := range iioChannels {
			if !hasGroup(dir, ch) {
				continue
			}
			out = append(out, Descriptor{
				ID:         dir + "|" + ch.group,
				Type:       ch.code,
				TypeName:   TypeString(ch.code),
				Name:       devName + " " + ch.group,
				Resolution: groupScale(dir, ch.group),
			})
		}
	}

	return out, nil
}

// Register starts polling d every interval
func (s *IIO) Register(d Descriptor, interval time.Duration, events chan<- Sample) error {
	dir, group, ok := strings.Cut(d.ID, "|")
	if !ok {
		return fmt.Errorf("invalid IIO sensor id: %q", d.ID)
	}

	var ch *iioChannel
	for i := range iioChannels {
		if iioChannels[i].group == group {
			ch = &iioChannels[i]
			break
		}
	}
	if ch == nil {
		return fmt.Errorf("unknown IIO channel group: %s", group)
	}
	if !hasGroup(dir, *ch) {
		return fmt.Errorf("IIO channel %s disappeared from %s", group, dir)
	}

	channel := *ch
	s.polls.add(d, interval, events, func() ([]float32, int, error) {
		return readGroup(dir, channel)
	})
	return nil
}

// UnregisterAll stops all pollers
func (s *IIO) UnregisterAll() error {
	return s.polls.stopAll()
}

func hasGroup(dir string, ch iioChannel) bool {
	if ch.axes != nil {
		return fileExists(filepath.Join(dir, fmt.Sprintf("in_%s_%s_raw", ch.group, ch.axes[0])))
	}
	if ch.group == "rot" {
		return fileExists(filepath.Join(dir, "in_rot_quaternion_raw"))
	}
	return fileExists(filepath.Join(dir, "in_"+ch.group+"_input")) ||
		fileExists(filepath.Join(dir, "in_"+ch.group+"_raw"))
}

func readGroup(dir string, ch iioChannel) ([]float32, int, error) {
	scale := groupScale(dir, ch.group)
	offset := readFloat(filepath.Join(dir, "in_"+ch.group+"_offset"), 0)

	switch {
	case ch.axes != nil:
		values := make([]float32, 0, len(ch.axes))
		for _, axis := range ch.axes {
			raw, err := readValue(filepath.Join(dir, fmt.Sprintf("in_%s_%s_raw", ch.group, axis)))
			if err != nil {
				return nil, AccuracyUnreliable, err
			}
			values = append(values, float32((raw+offset)*scale))
		}
		return values, AccuracyHigh, nil

	case ch.group == "rot":
		data, err := os.ReadFile(filepath.Join(dir, "in_rot_quaternion_raw"))
		if err != nil {
			return nil, AccuracyUnreliable, err
		}
		fields := strings.Fields(string(data))
		values := make([]float32, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, AccuracyUnreliable, fmt.Errorf("invalid quaternion component %q: %w", f, err)
			}
			values = append(values, float32(v*scale))
		}
		return values, AccuracyHigh, nil

	default:
		// Processed values need no scaling
		if v, err := readValue(filepath.Join(dir, "in_"+ch.group+"_input")); err == nil {
			return []float32{float32(v)}, AccuracyHigh, nil
		}
		raw, err := readValue(filepath.Join(dir, "in_"+ch.group+"_raw"))
		if err != nil {
			return nil, AccuracyUnreliable, err
		}
		return []float32{float32((raw + offset) * scale)}, AccuracyHigh, nil
	}
}

func groupScale(dir, group string) float64 {
	return readFloat(filepath.Join(dir, "in_"+group+"_scale"), 1)
}

func readValue(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value in %s: %w", path, err)
	}
	return v, nil
}

func readFloat(path string, fallback float64) float64 {
	v, err := readValue(path)
	if err != nil {
		return fallback
	}
	return v
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package sensorlog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tangym/sensorlog/internal/naming"
	"github.com/tangym/sensorlog/internal/sensor"
)

// Record is one parsed data line
type Record struct {
	TypeName string
	Time     time.Time
	Accuracy int
	Values   []float32
}

// Log is a fully parsed sensor log
type Log struct {
	Sensors []sensor.Descriptor
	Records []Record
}

// IsComment reports whether line is a header/comment line
func IsComment(line string) bool {
	return strings.HasPrefix(line, CommentPrefix)
}

// ParseRecord parses one data line
func ParseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), Separator)
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("record has %d fields, need at least 3", len(fields))
	}

	ts, err := ParseStamp(fields[1])
	if err != nil {
		return Record{}, err
	}

	accuracy, err := strconv.Atoi(fields[2])
	if err != nil {
		return Record{}, fmt.Errorf("invalid accuracy %q: %w", fields[2], err)
	}

	values := make([]float32, 0, len(fields)-3)
	for _, f := range fields[3:] {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return Record{}, fmt.Errorf("invalid value %q: %w", f, err)
		}
		values = append(values, float32(v))
	}

	return Record{TypeName: fields[0], Time: ts, Accuracy: accuracy, Values: values}, nil
}

// ParseStamp parses a yyyyMMddHHmmssSSS timestamp in local time
func ParseStamp(s string) (time.Time, error) {
	if len(s) != len(naming.StampLayout)+3 {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	t, err := time.ParseInLocation(naming.StampLayout, s[:len(naming.StampLayout)], time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	ms, err := strconv.Atoi(s[len(naming.StampLayout):])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp milliseconds %q: %w", s, err)
	}
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}

// ParseDescriptor parses a "## Sensor found" header line
func ParseDescriptor(line string) (sensor.Descriptor, error) {
	if !strings.HasPrefix(line, descriptorPrefix) || !strings.HasSuffix(line, ")") {
		return sensor.Descriptor{}, fmt.Errorf("not a sensor descriptor line")
	}
	fields := strings.Split(line[len(descriptorPrefix):len(line)-1], Separator)
	if len(fields) < 5 {
		return sensor.Descriptor{}, fmt.Errorf("descriptor has %d fields, need 5", len(fields))
	}

	// Names may contain the separator; type is first, the numbers are last
	n := len(fields)
	code, err := strconv.Atoi(fields[n-3])
	if err != nil {
		return sensor.Descriptor{}, fmt.Errorf("invalid type code %q: %w", fields[n-3], err)
	}
	resolution, err := strconv.ParseFloat(fields[n-2], 64)
	if err != nil {
		return sensor.Descriptor{}, fmt.Errorf("invalid resolution %q: %w", fields[n-2], err)
	}
	power, err := strconv.ParseFloat(fields[n-1], 64)
	if err != nil {
		return sensor.Descriptor{}, fmt.Errorf("invalid power %q: %w", fields[n-1], err)
	}

	return sensor.Descriptor{
		TypeName:   fields[0],
		Name:       strings.Join(fields[1:n-3], Separator),
		Type:       code,
		Resolution: resolution,
		Power:      power,
	}, nil
}

// Read parses a whole sensor log, skipping comment lines other than
// descriptors. Malformed data lines are returned as an error with their line number.
func Read(r io.Reader) (*Log, error) {
	log := &Log{}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		if IsComment(line) {
			if strings.HasPrefix(line, descriptorPrefix) {
				d, err := ParseDescriptor(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				log.Sensors = append(log.Sensors, d)
			}
			continue
		}

		rec, err := ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		log.Records = append(log.Records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sensor log: %w", err)
	}
	return log, nil
}

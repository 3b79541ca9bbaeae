// Package sensorlog writes and parses the per-session sensor log.
//
// The log is UTF-8 text with one record per line. Lines starting with "##"
// are header/comment lines; every other line is a data record:
//
//	<type string>, <yyyyMMddHHmmssSSS>, <accuracy>, v1, v2, ..., vn
package sensorlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tangym/sensorlog/internal/naming"
	"github.com/tangym/sensorlog/internal/sensor"
)

// CommentPrefix marks header and comment lines
const CommentPrefix = "##"

// Separator joins fields of a record
const Separator = ", "

// HeaderLines precede the descriptor records in every log
var HeaderLines = []string{
	"## Note: lines start with two hash tags should be ignored when parsing sensor data.",
	"## (Type, Name, Int Type, Resolution, Power)",
}

const descriptorPrefix = "## Sensor found: ("

// FormatDescriptor renders the header record for one sensor
func FormatDescriptor(d sensor.Descriptor) string {
	return fmt.Sprintf("%s%s, %s, %d, %f, %f)", descriptorPrefix,
		cleanType(d.TypeName), cleanName(d.Name), d.Type, d.Resolution, d.Power)
}

// FormatSample renders one data record, without the trailing newline
func FormatSample(s sensor.Sample) string {
	fields := make([]string, 0, 3+len(s.Values))
	fields = append(fields, cleanType(s.TypeName), naming.Format(s.Time), strconv.Itoa(s.Accuracy))
	for _, v := range s.Values {
		fields = append(fields, strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return strings.Join(fields, Separator)
}

// cleanType keeps a type string from breaking the record layout: it may not
// start with the comment marker or contain the field separator.
func cleanType(name string) string {
	name = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(name), "#"))
	name = strings.ReplaceAll(name, ",", ";")
	name = strings.NewReplacer("\r", " ", "\n", " ").Replace(name)
	if name == "" {
		return "unknown"
	}
	return name
}

// cleanName keeps a sensor name on one line
func cleanName(name string) string {
	name = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(name)
	return strings.TrimSpace(name)
}

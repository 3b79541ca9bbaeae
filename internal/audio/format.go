package audio

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/cpu"
)

// Encoding is the sample encoding of captured audio
type Encoding string

const (
	EncodingS16 Encoding = "s16" // 16-bit signed integer
	EncodingF32 Encoding = "f32" // 32-bit IEEE float
)

// ParseEncoding validates an encoding name
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingS16, EncodingF32:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unsupported audio encoding: %q", s)
	}
}

// BytesPerSample returns the width of one sample
func (e Encoding) BytesPerSample() int {
	if e == EncodingF32 {
		return 4
	}
	return 2
}

// NativeByteOrder returns the host byte order and its short name ("le" or "be")
func NativeByteOrder() (binary.ByteOrder, string) {
	if cpu.IsBigEndian {
		return binary.BigEndian, "be"
	}
	return binary.LittleEndian, "le"
}

// Format describes a raw PCM stream. Samples are always in host byte order.
type Format struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// FrameBytes returns the size in bytes of a frame holding samples samples per channel
func (f Format) FrameBytes(samples int) int {
	return samples * f.Channels * f.Encoding.BytesPerSample()
}

// FrameDuration returns how long a frame of samples takes to capture
func (f Format) FrameDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// FileSuffix is the byte-order annotation used in the audio file name
func (f Format) FileSuffix() string {
	_, name := NativeByteOrder()
	return name
}

// String renders the format like "s16le 44100Hz mono"
func (f Format) String() string {
	_, order := NativeByteOrder()
	layout := "mono"
	if f.Channels != 1 {
		layout = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%s%s %dHz %s", f.Encoding, order, f.SampleRate, layout)
}

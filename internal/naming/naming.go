// Package naming derives collision-free session file names from wall-clock time.
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StampLayout is yyyyMMddHHmmss; milliseconds are appended as three digits.
const StampLayout = "20060102150405"

// maxClaimAttempts bounds the number of 1 ms bumps tried when a name is taken
const maxClaimAttempts = 1000

// ErrOutputDir is returned when the output directory cannot be created
var ErrOutputDir = errors.New("output directory unavailable")

// Format renders t as yyyyMMddHHmmssSSS in local time
func Format(t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%s%03d", t.Format(StampLayout), t.Nanosecond()/int(time.Millisecond))
}

// Paths holds the files belonging to one session
type Paths struct {
	Stamp   string
	Log     string
	Audio   string
	Sidecar string
}

// Build combines dir, the stamp of t and the audio suffix into session paths.
// An empty audioSuffix yields s<stamp>.pcm.
func Build(dir string, t time.Time, audioSuffix string) Paths {
	stamp := Format(t)
	audio := "s" + stamp + ".pcm"
	if audioSuffix != "" {
		audio = fmt.Sprintf("s%s_%s.pcm", stamp, audioSuffix)
	}
	return Paths{
		Stamp:   stamp,
		Log:     filepath.Join(dir, "s"+stamp+".csv"),
		Audio:   filepath.Join(dir, audio),
		Sidecar: filepath.Join(dir, "s"+stamp+".yaml"),
	}
}

// EnsureDir creates dir and its parents if missing
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputDir, dir, err)
	}
	return nil
}

// Stamper hands out strictly increasing millisecond timestamps
type Stamper struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewStamper creates a stamper reading time from now (time.Now when nil)
func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

// Next returns the current time truncated to milliseconds, bumped past the
// previously issued value if the clock has not advanced.
func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Stamper) nextLocked() time.Time {
	t := s.now().Round(0).Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

// Files are the opened output files of a claimed session
type Files struct {
	Paths
	Start time.Time
	Log   *os.File
	Audio *os.File
}

// Claim creates dir if needed and exclusively creates the sensor log and
// audio file under a fresh stamp. On a name collision the stamp is bumped.
func (s *Stamper) Claim(dir, audioSuffix string) (*Files, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		start := s.nextLocked()
		paths := Build(dir, start, audioSuffix)

		logFile, err := createExclusive(paths.Log)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create sensor log: %w", err)
		}

		audioFile, err := createExclusive(paths.Audio)
		if err != nil {
			logFile.Close()
			os.Remove(paths.Log)
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("failed to create audio file: %w", err)
		}

		return &Files{Paths: paths, Start: start, Log: logFile, Audio: audioFile}, nil
	}

	return nil, fmt.Errorf("no free session name in %s after %d attempts", dir, maxClaimAttempts)
}

// Discard closes and removes the files of an aborted session
func (f *Files) Discard() {
	if f.Log != nil {
		f.Log.Close()
	}
	if f.Audio != nil {
		f.Audio.Close()
	}
	os.Remove(f.Paths.Log)
	os.Remove(f.Paths.Audio)
	os.Remove(f.Sidecar)
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

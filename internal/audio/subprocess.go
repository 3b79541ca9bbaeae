package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	pipeWireTool = "pw-record"
	alsaTool     = "arecord"

	// stopTimeout bounds how long Close waits for the capture tool to exit
	stopTimeout = 5 * time.Second
	// stderrTail is how many bytes of tool output are kept for error reports
	stderrTail = 2048
)

// commandSource opens a microphone by running a capture tool that writes raw
// PCM to stdout
type commandSource struct {
	name      string
	tool      string
	buildArgs func(format Format) ([]string, error)
	logWriter io.Writer
	// interruptCodes are extra exit codes the tool uses after SIGINT
	interruptCodes []int
}

// NewPipeWireSource captures with pw-record. target selects the capture node; empty uses the default.
func NewPipeWireSource(target string, logWriter io.Writer) Source {
	return &commandSource{
		name:      string(BackendTypePipeWire),
		tool:      pipeWireTool,
		buildArgs: func(f Format) ([]string, error) { return pipeWireArgs(f, target), nil },
		logWriter: logWriter,
	}
}

// NewALSASource captures with arecord. device is an ALSA PCM name; empty uses the default.
func NewALSASource(device string, logWriter io.Writer) Source {
	return &commandSource{
		name:      string(BackendTypeALSA),
		tool:      alsaTool,
		buildArgs: func(f Format) ([]string, error) { return alsaArgs(f, device) },
		logWriter: logWriter,
		// arecord exits 1 when interrupted
		interruptCodes: []int{1},
	}
}

func pipeWireArgs(f Format, target string) []string {
	args := []string{
		"--raw",
		"--rate", strconv.Itoa(f.SampleRate),
		"--channels", strconv.Itoa(f.Channels),
		"--format", string(f.Encoding),
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return append(args, "-")
}

func alsaArgs(f Format, device string) ([]string, error) {
	_, order := NativeByteOrder()
	var sampleFormat string
	switch f.Encoding {
	case EncodingS16:
		sampleFormat = "S16_" + strings.ToUpper(order)
	case EncodingF32:
		sampleFormat = "FLOAT_" + strings.ToUpper(order)
	default:
		return nil, fmt.Errorf("unsupported audio encoding: %q", f.Encoding)
	}

	args := []string{
		"-q",
		"-t", "raw",
		"-f", sampleFormat,
		"-r", strconv.Itoa(f.SampleRate),
		"-c", strconv.Itoa(f.Channels),
	}
	if device != "" {
		args = append(args, "-D", device)
	}
	return append(args, "-"), nil
}

func (s *commandSource) Name() string {
	return s.name
}

// Open starts the capture tool
func (s *commandSource) Open(format Format) (Microphone, error) {
	path, err := exec.LookPath(s.tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrMicrophoneUnavailable, s.tool, err)
	}

	args, err := s.buildArgs(format)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Info("Starting microphone capture", "backend", s.name, "command", s.tool+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrMicrophoneUnavailable, s.tool, err)
	}

	m := &processMic{
		tool:           s.tool,
		cmd:            cmd,
		stdout:         stdout,
		interruptCodes: s.interruptCodes,
		outputDone:     make(chan struct{}),
	}
	go m.readOutput(stderr, s.logWriter)
	return m, nil
}

// processMic reads PCM from a running capture tool
type processMic struct {
	tool           string
	cmd            *exec.Cmd
	stdout         io.ReadCloser
	interruptCodes []int

	mu         sync.Mutex
	stderrBuf  strings.Builder
	outputDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func (m *processMic) Read(p []byte) (int, error) {
	n, err := m.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		// The tool exited; the real cause is usually on stderr
		<-m.outputDone
		if tail := m.stderrTail(); tail != "" {
			return n, fmt.Errorf("%s stopped: %s: %w", m.tool, tail, io.EOF)
		}
	}
	return n, err
}

// readOutput buffers the tool's stderr and copies it to logWriter
func (m *processMic) readOutput(pipe io.ReadCloser, logWriter io.Writer) {
	defer close(m.outputDone)

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		m.mu.Lock()
		m.stderrBuf.WriteString(line + "\n")
		m.mu.Unlock()
		if logWriter != nil {
			fmt.Fprintln(logWriter, line)
		}
		slog.Debug("Capture tool output", "tool", m.tool, "line", line)
	}
}

func (m *processMic) stderrTail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := strings.TrimSpace(m.stderrBuf.String())
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

// Close interrupts the tool and waits for it to exit, killing it after stopTimeout
func (m *processMic) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.stop()
	})
	return m.closeErr
}

func (m *processMic) stop() error {
	interrupted := false
	if m.cmd.Process != nil {
		slog.Debug("Sending SIGINT to capture tool", "tool", m.tool)
		if err := m.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt capture tool, killing", "tool", m.tool, "error", err)
			interrupted = m.cmd.Process.Kill() == nil
		} else {
			interrupted = true
		}
	}

	done := make(chan error, 1)
	go func() {
		<-m.outputDone
		done <- m.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && interruptExit(exitErr.ExitCode(), interrupted, m.interruptCodes) {
				return nil
			}
			return fmt.Errorf("%s exited with error: %w", m.tool, err)
		}
		return nil

	case <-time.After(stopTimeout):
		slog.Warn("Capture tool did not exit within timeout, force killing", "tool", m.tool)
		m.cmd.Process.Kill()
		<-done
		return nil
	}
}

// interruptExit reports whether code is how the tool ends after we signaled
// it: death by signal, 130, or one of the tool's own codes
func interruptExit(code int, interrupted bool, toolCodes []int) bool {
	if !interrupted {
		return false
	}
	return code == -1 || code == 130 || slices.Contains(toolCodes, code)
}

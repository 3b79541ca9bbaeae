package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// ListDevices returns the capture targets a backend can record from: PipeWire
// output ports for pipewire and PCM names for alsa.
func ListDevices(backend BackendType) ([]string, error) {
	switch backend {
	case BackendTypePipeWire:
		output, err := exec.Command("pw-link", "-o").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
		}
		return parsePortList(string(output)), nil
	case BackendTypeALSA:
		output, err := exec.Command(alsaTool, "-L").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
		}
		return parseALSAList(string(output)), nil
	case BackendTypeSimulated:
		return []string{"tone:440Hz"}, nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", backend)
	}
}

// parsePortList keeps one port per non-empty line, skipping section headings
func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// parseALSAList keeps the PCM names of `arecord -L`; descriptions are indented
func parseALSAList(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		devices = append(devices, strings.TrimSpace(line))
	}
	return devices
}

package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tangym/sensorlog/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio backends and capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Audio backends (%s)\n\n", runtime.GOOS)

		available := audio.GetAvailableBackends()
		if len(available) == 0 {
			fmt.Println("No capture tool found. Install pw-record (PipeWire) or arecord (ALSA),")
			fmt.Println("or set audio.backend: simulated.")
		}

		for _, backend := range available {
			devices, err := audio.ListDevices(backend)
			if err != nil {
				slog.Warn("Failed to list devices", "backend", backend, "error", err)
				fmt.Printf("%s: installed, device listing failed\n\n", backend)
				continue
			}
			fmt.Printf("%s (%d devices):\n", backend, len(devices))
			for i, d := range devices {
				fmt.Printf("  %d. %s\n", i+1, d)
			}
			fmt.Println()
		}

		fmt.Printf("Configured: audio.backend=%s audio.device=%q\n", cfg.Audio.Backend, cfg.Audio.Device)
		return nil
	},
}

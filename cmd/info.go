package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tangym/sensorlog/internal/sensorlog"
	"github.com/tangym/sensorlog/internal/session"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [sensor-log.csv]",
	Short: "Summarize a recorded session",
	Long: `Parse a sensor log, skipping ## header lines, and print the sensors it
declares with per-sensor record counts. Session metadata from the matching
.yaml sidecar is shown when present.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open sensor log: %w", err)
		}
		defer f.Close()

		log, err := sensorlog.Read(f)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		counts := map[string]int{}
		for _, r := range log.Records {
			counts[r.TypeName]++
		}

		fmt.Printf("=== SENSOR LOG ===\n")
		fmt.Printf("file: %s\n", path)
		fmt.Printf("records: %d\n", len(log.Records))
		if len(log.Records) > 0 {
			first, last := log.Records[0].Time, log.Records[len(log.Records)-1].Time
			fmt.Printf("first: %s\n", first.Format("2006-01-02 15:04:05.000"))
			fmt.Printf("last: %s\n", last.Format("2006-01-02 15:04:05.000"))
		}

		fmt.Printf("\n[Sensors]\n")
		declared := map[string]bool{}
		for i, d := range log.Sensors {
			declared[d.TypeName] = true
			fmt.Printf("%d. %s (%s, type %d): %d records\n", i+1, d.Name, d.TypeName, d.Type, counts[d.TypeName])
		}

		var undeclared []string
		for typeName := range counts {
			if !declared[typeName] {
				undeclared = append(undeclared, typeName)
			}
		}
		sort.Strings(undeclared)
		for _, typeName := range undeclared {
			fmt.Printf("-  %s (undeclared): %d records\n", typeName, counts[typeName])
		}

		sidecarPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
		sc, err := session.ReadSidecar(sidecarPath)
		if err != nil {
			return nil
		}

		fmt.Printf("\n[Session]\n")
		fmt.Printf("id: %s\n", sc.SessionID)
		fmt.Printf("started: %s\n", sc.Started.Format("2006-01-02 15:04:05.000"))
		if sc.Stopped != nil {
			fmt.Printf("stopped: %s (%s)\n", sc.Stopped.Format("2006-01-02 15:04:05.000"), sc.Stopped.Sub(sc.Started))
		} else {
			fmt.Printf("stopped: unknown (session did not stop cleanly)\n")
		}

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("file: %s\n", sc.Audio.File)
		fmt.Printf("format: %s, byte order %s, %d Hz, %d channel(s)\n", sc.Audio.Encoding, sc.Audio.ByteOrder, sc.Audio.SampleRate, sc.Audio.Channels)
		fmt.Printf("frame: %d samples (%d bytes)\n", sc.Audio.FrameSamples, sc.Audio.FrameBytes)
		if sc.Audio.Result != nil {
			fmt.Printf("captured: %d frames, %d bytes\n", sc.Audio.Result.Frames, sc.Audio.Result.Bytes)
		}
		if sc.Audio.Error != "" {
			fmt.Printf("error: %s\n", sc.Audio.Error)
		}
		return nil
	},
}

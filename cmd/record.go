package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tangym/sensorlog/internal/session"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record sensors and microphone audio",
	Long: `Start a recording session immediately. Press Enter to stop the session and
Enter again to start a new one. Ctrl+C stops any active session and exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")

		ctrl, err := session.New(cfg, toolLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}

		if _, err := ctrl.Start(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		printStarted(ctrl)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		toggles := make(chan struct{})
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				toggles <- struct{}{}
			}
		}()

		var timeout <-chan time.Time
		if duration > 0 {
			timeout = time.After(duration)
		}

		for {
			select {
			case <-toggles:
				if state, _ := ctrl.State(); state == session.StateRecording {
					if err := stopAndReport(ctrl); err != nil {
						slog.Error("Recording stopped with errors", "error", err)
					}
					fmt.Println("Press Enter to start a new session, Ctrl+C to quit")
					continue
				}
				if _, err := ctrl.Start(); err != nil {
					slog.Error("Failed to start recording", "error", err)
					continue
				}
				printStarted(ctrl)
			case <-timeout:
				slog.Info("Recording duration reached", "duration", duration)
				return stopAndReport(ctrl)
			case <-sigChan:
				slog.Info("Stopping recording...")
				return stopAndReport(ctrl)
			}
		}
	},
}

func printStarted(ctrl *session.Controller) {
	_, info := ctrl.State()
	if info == nil {
		return
	}
	fmt.Printf("Recording session %s\n", info.ID)
	fmt.Printf("  sensor log: %s (%d sensors)\n", info.Paths.Log, len(info.Sensors))
	fmt.Printf("  audio:      %s\n", info.Paths.Audio)
	fmt.Println("Press Enter to stop, Ctrl+C to stop and quit")
}

// stopAndReport stops the active session, if any, and prints its summary
func stopAndReport(ctrl *session.Controller) error {
	summary, err := ctrl.Stop()
	if summary == nil {
		return err
	}

	fmt.Printf("Session %s stopped after %s\n", summary.ID, summary.StopTime.Sub(summary.StartTime).Round(time.Millisecond))
	fmt.Printf("  sensor records: %d written, %d dropped\n", summary.Log.Records, summary.Log.Dropped)
	fmt.Printf("  audio:          %d frames, %d bytes\n", summary.Audio.Frames, summary.Audio.Bytes)
	if summary.Audio.Err != nil {
		fmt.Printf("  audio error:    %v\n", summary.Audio.Err)
	}
	fmt.Printf("  metadata:       %s\n", summary.Paths.Sidecar)
	return err
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this duration (0 records until interrupted)")
}

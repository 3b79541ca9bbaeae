package cmd

import (
	"fmt"
	"log/slog"

	"github.com/tangym/sensorlog/internal/server"
	"github.com/tangym/sensorlog/internal/session"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Start the SensorLog control server so recording can be switched on and off
from a phone or any device on the same network.

Endpoints: POST /start, POST /stop, POST /toggle, GET /status, GET /api/sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctrl, err := session.New(cfg, toolLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		defer func() {
			if _, err := ctrl.Stop(); err != nil {
				slog.Error("Failed to stop recording", "error", err)
			}
		}()

		srv := server.New(ctrl, cfg.Output.Directory, port)
		slog.Info("SensorLog control server starting", "port", port, "output", cfg.Output.Directory)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the control server")
}

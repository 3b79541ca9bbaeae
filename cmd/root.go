package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/tangym/sensorlog/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	outputDir    string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "sensorlog",
	Short: "Record sensor readings and microphone audio to timestamped files",
	Long: `SensorLog captures every available motion and environmental sensor
together with microphone audio and writes both to local files for offline analysis.

Each session produces s<timestamp>.csv (sensor log), s<timestamp>_<le|be>.pcm
(raw audio) and s<timestamp>.yaml (session metadata) in the output directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// A missing .env is not an error
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to load .env", "error", err)
		}

		// The config file is optional unless given explicitly
		required := cfgFile != ""
		path := cfgFile
		if path == "" {
			path = os.ExpandEnv("$HOME/.config/sensorlog.yaml")
		}

		var err error
		cfg, err = config.Load(path, required)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if outputDir != "" {
			cfg.Output.Directory = outputDir
		}
		slog.Debug("Configuration loaded", "file", path, "output", cfg.Output.Directory)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/sensorlog.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=capture tool output")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(sensorsCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}

// toolLogWriter receives the stderr of capture subprocesses
func toolLogWriter() io.Writer {
	if verboseLevel >= 2 {
		return os.Stderr
	}
	return io.Discard
}

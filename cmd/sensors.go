package cmd

import (
	"fmt"

	"github.com/tangym/sensorlog/internal/sensor"

	"github.com/spf13/cobra"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List the sensors a session would record",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := sensor.NewService(cfg)
		if err != nil {
			return err
		}
		if svc == nil {
			return fmt.Errorf("%w (backend %q, iio root %s)", sensor.ErrNoSensorService, cfg.Sensors.Backend, cfg.Sensors.IIORoot)
		}

		sensors, err := svc.List()
		if err != nil {
			return fmt.Errorf("failed to enumerate sensors: %w", err)
		}

		policy := sensor.PolicyFromConfig(cfg)
		fmt.Printf("Sensors (%s, %d found):\n", cfg.Sensors.Backend, len(sensors))
		for i, d := range sensors {
			rate := policy.RateFor(d)
			fmt.Printf("  %d. %s (%s)\n", i+1, d.Name, d.TypeName)
			fmt.Printf("     type=%d resolution=%g power=%g rate=%s (%s)\n",
				d.Type, d.Resolution, d.Power, rate, policy.Interval(rate))
		}
		return nil
	},
}

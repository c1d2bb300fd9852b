package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reliefgrid/coordinator/infra/logger"
	"github.com/reliefgrid/coordinator/simulator"
)

var (
	simCfg           simulator.Config
	availabilityFile string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a fleet of simulated responders against a coordinator",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simCfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	f.StringVar(&simCfg.APIURL, "api", "http://localhost:8080", "coordinator API base URL")
	f.StringVar(&simCfg.Auth.Token, "token", "", "API bearer token")
	f.StringVar(&simCfg.Auth.ClientID, "client-id", "", "OAuth2 client id")
	f.StringVar(&simCfg.Auth.ClientSecret, "client-secret", "", "OAuth2 client secret")
	f.StringVar(&simCfg.Auth.AuthURL, "auth-url", "", "OAuth2 token URL")
	f.IntVar(&simCfg.FleetSize, "fleet-size", 5, "number of responders")
	f.StringSliceVar(&simCfg.SkillSets, "skills", []string{"medical", "rescue", "driving"}, "skill sets handed out round-robin, e.g. medical+driving")
	f.StringVar(&simCfg.StatePrefix, "state-prefix", "coordination/responders", "directory state topic prefix")
	f.StringVar(&simCfg.EventPrefix, "event-prefix", "coordination/events", "coordinator event topic prefix")
	f.DurationVar(&simCfg.Interval, "interval", 0, "state publish interval")
	f.DurationVar(&simCfg.WorkTime, "work-time", 0, "time spent on a task")
	f.Float64Var(&simCfg.DropRate, "drop-rate", 0, "probability an assignment is ignored")
	f.StringVar(&availabilityFile, "availability-file", "", "hourly on-shift profile (JSON)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := simCfg
	if availabilityFile != "" {
		data, err := os.ReadFile(availabilityFile)
		if err != nil {
			return fmt.Errorf("availability file: %w", err)
		}
		if cfg.Availability, err = simulator.LoadAvailabilityProfile(data); err != nil {
			return fmt.Errorf("availability file: %w", err)
		}
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return simulator.Run(ctx, cfg, logger.New("simulator"))
}

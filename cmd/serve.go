package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/dqc/pkg/service"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the DQC API service",
	Long:  `Serve the validation API, the Prometheus metrics endpoint and optional health checks.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := service.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	// The config level applies unless --log-level was given
	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(config.Logging)
		if err != nil {
			return err
		}

		logger.SetLevel(level)
	}

	logger.Info("Configuration loaded")

	// The API is what serve exists for
	config.API.Enabled = true
	if err := config.API.Validate(); err != nil {
		return err
	}

	svc, err := service.NewService(logger, config)
	if err != nil {
		return err
	}

	if err := svc.Start(context.Background()); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	return svc.Stop()
}

// Atag One Core
//
// Entry point for the atagone service and its command-line tools. The
// serve command runs discovery, polling, the MQTT bridge, the HTTP API and
// the HomeKit accessory against one Atag One thermostat. The remaining
// commands talk to the controller once and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/atagone-core/internal/infrastructure/config"
	"github.com/nerrad567/atagone-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides defaultConfigPath.
const configEnv = "ATAGONE_CONFIG"

func main() {
	// Cancel on Ctrl+C or SIGTERM so every command shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options carries the persistent flags shared by every command.
type options struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "atagone",
		Short:         "Atag One thermostat service and tools",
		Long:          "Discovers an Atag One thermostat on the local network, reads its report and updates its controls.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env file is normal.
			_ = godotenv.Load()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $"+configEnv+" or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newReportCmd(opts),
		newSetTempCmd(opts),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly, by flag or environment.
func (o *options) getConfigPath() (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if path := os.Getenv(configEnv); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig reads the config file. The default path may be absent, in
// which case built-in defaults and environment overrides apply; an explicit
// path must exist.
func (o *options) loadConfig() (*config.Config, error) {
	path, explicit := o.getConfigPath()

	cfg, err := config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg, err = config.Defaults()
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	if o.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the configured logger.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(cfg.Logging, version)
}

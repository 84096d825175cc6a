package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/infrastructure/config"
	"github.com/nerrad567/atagone-core/internal/infrastructure/logging"
)

const defaultDiscoverTimeout = 30 * time.Second

// errNoAnnouncement is returned when discovery times out.
var errNoAnnouncement = errors.New("no controller announcement received")

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atagone %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func newDiscoverCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Wait for a controller announcement and print its endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.toolSetup()
			if err != nil {
				return err
			}

			// No endpoint and no store: every announcement is a change.
			dev, err := atagone.New(cmd.Context(), atagone.Options{
				DiscoveryAddr: cfg.Device.DiscoveryAddress,
				Logger:        log,
			})
			if err != nil {
				return err
			}

			ep, err := discover(cmd.Context(), dev, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ep.String())
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", defaultDiscoverTimeout, "how long to wait for an announcement")
	return cmd
}

func newReportCmd(opts *options) *cobra.Command {
	var (
		ip      string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the controller's retrieve reply as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.toolSetup()
			if err != nil {
				return err
			}
			dev, release, err := connectDevice(cmd.Context(), cfg, ip, timeout, log)
			if err != nil {
				return err
			}
			defer release()

			reply, err := dev.GetReport(cmd.Context())
			if err != nil {
				return fmt.Errorf("retrieving report: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reply)
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "controller address (overrides config and stored endpoint)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", defaultDiscoverTimeout, "discovery wait when no endpoint is known")
	return cmd
}

func newSetTempCmd(opts *options) *cobra.Command {
	var (
		ip      string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set-temp <celsius>",
		Short: "Set the heating target temperature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.toolSetup()
			if err != nil {
				return err
			}

			value, err := parseTarget(args[0], cfg.Device.Thermostat)
			if err != nil {
				return err
			}

			dev, release, err := connectDevice(cmd.Context(), cfg, ip, timeout, log)
			if err != nil {
				return err
			}
			defer release()
			if err := dev.UpdateControl(cmd.Context(), atagone.TargetTemperatureControl(value)); err != nil {
				return fmt.Errorf("updating target temperature: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "target temperature set to %.1f\n", value)
			return nil
		},
	}
	cmd.Flags().StringVar(&ip, "ip", "", "controller address (overrides config and stored endpoint)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", defaultDiscoverTimeout, "discovery wait when no endpoint is known")
	return cmd
}

// toolSetup loads config and returns a logger that writes to stderr, so
// command output on stdout stays machine-readable.
func (o *options) toolSetup() (*config.Config, *logging.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	if !o.debug {
		logCfg.Level = "warn"
	}
	return cfg, logging.New(logCfg, version), nil
}

// parseTarget parses a setpoint and checks it against the thermostat range.
func parseTarget(raw string, t config.ThermostatConfig) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q", raw)
	}
	if v < t.MinTarget || v > t.MaxTarget {
		return 0, fmt.Errorf("temperature %.1f outside %.1f..%.1f", v, t.MinTarget, t.MaxTarget)
	}
	return v, nil
}

// connectDevice builds a device from configuration. With no known endpoint
// it waits up to timeout for an announcement. The returned func releases
// the endpoint store.
func connectDevice(ctx context.Context, cfg *config.Config, ip string, timeout time.Duration, log *logging.Logger) (*atagone.Device, func(), error) {
	if ip != "" {
		cfg.Device.IPAddress = ip
	}

	store, db, err := openEndpointStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if db != nil {
			db.Close() //nolint:errcheck // Short-lived command
		}
	}

	dev, err := newDevice(ctx, cfg, store, log)
	if err != nil {
		release()
		return nil, nil, err
	}
	if dev.Endpoint().IsZero() {
		if _, err := discover(ctx, dev, timeout); err != nil {
			release()
			return nil, nil, err
		}
	}
	return dev, release, nil
}

// discover runs the listener until the first endpoint is applied.
func discover(ctx context.Context, dev *atagone.Device, timeout time.Duration) (atagone.Endpoint, error) {
	found := make(chan atagone.Endpoint, 1)
	onChange := func(ep atagone.Endpoint) {
		select {
		case found <- ep:
		default:
		}
	}
	if err := dev.StartDiscovery(onChange, nil); err != nil {
		return "", fmt.Errorf("starting discovery: %w", err)
	}
	defer dev.StopDiscovery() //nolint:errcheck // Listener is discarded

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ep := <-found:
		return ep, nil
	case <-timer.C:
		return "", fmt.Errorf("%w within %v", errNoAnnouncement, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

package homekit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

// Defaults.
const (
	DefaultName      = "Atag One"
	DefaultPin       = "00102003"
	DefaultMinTarget = 16.0
	DefaultMaxTarget = 25.0
	DefaultStep      = 0.5

	updateTimeout = 10 * time.Second
)

// Controller is the write side of the device. *atagone.Device satisfies it.
type Controller interface {
	UpdateControl(ctx context.Context, control atagone.Control) error
}

// Refresher requests an early poll after a target change.
type Refresher interface {
	Trigger()
}

// Logger is the optional logging dependency.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Thermostat.
type Options struct {
	Name        string
	Pin         string
	StoragePath string
	Port        int
	Version     string

	// SerialNumber seeds the accessory serial. Reports carrying a device
	// id replace it.
	SerialNumber string

	MinTarget float64
	MaxTarget float64
	Step      float64

	Refresher Refresher
	Logger    Logger
}

// Thermostat is a HomeKit thermostat backed by the controller.
type Thermostat struct {
	acc    *accessory.Thermostat
	ctrl   Controller
	opts   Options
	logger Logger
}

// NewThermostat builds the accessory. Call ListenAndServe to publish it.
func NewThermostat(ctrl Controller, opts Options) *Thermostat {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Pin == "" {
		opts.Pin = DefaultPin
	}
	if opts.MinTarget == 0 && opts.MaxTarget == 0 {
		opts.MinTarget, opts.MaxTarget = DefaultMinTarget, DefaultMaxTarget
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}

	acc := accessory.NewThermostat(accessory.Info{
		Name:         opts.Name,
		Manufacturer: "Atag",
		Model:        "One",
		SerialNumber: opts.SerialNumber,
		Firmware:     opts.Version,
	})

	th := acc.Thermostat
	th.TargetTemperature.SetMinValue(opts.MinTarget)
	th.TargetTemperature.SetMaxValue(opts.MaxTarget)
	th.TargetTemperature.SetStepValue(opts.Step)

	// Initial values are within the ranges above.
	th.TargetTemperature.SetValue(opts.MinTarget)
	_ = th.TemperatureDisplayUnits.SetValue(characteristic.TemperatureDisplayUnitsCelsius)
	_ = th.TargetHeatingCoolingState.SetValue(characteristic.TargetHeatingCoolingStateHeat)

	t := &Thermostat{
		acc:    acc,
		ctrl:   ctrl,
		opts:   opts,
		logger: opts.Logger,
	}

	th.TargetTemperature.OnValueRemoteUpdate(t.onRemoteTarget)
	th.TargetHeatingCoolingState.OnValueRemoteUpdate(t.onRemoteMode)
	return t
}

// Accessory returns the underlying HAP accessory.
func (t *Thermostat) Accessory() *accessory.A {
	return t.acc.A
}

// ReportUpdated mirrors a report onto the accessory. It implements
// bridge.ReportSink.
func (t *Thermostat) ReportUpdated(_ context.Context, deviceID string, reply *atagone.RetrieveReply) error {
	t.setSerial(deviceID)
	if reply == nil || reply.Report == nil {
		return nil
	}

	th := t.acc.Thermostat
	report := reply.Report

	if temp, ok := report.RoomTemp(); ok {
		th.CurrentTemperature.SetValue(temp)
	}
	if target, ok := report.ShownSetTemp(); ok {
		th.TargetTemperature.SetValue(t.clamp(target))
	}

	state := characteristic.CurrentHeatingCoolingStateOff
	if report.Heating() {
		state = characteristic.CurrentHeatingCoolingStateHeat
	}
	if err := th.CurrentHeatingCoolingState.SetValue(state); err != nil {
		return fmt.Errorf("heating state: %w", err)
	}
	return nil
}

// setSerial publishes the controller's device id as the accessory serial.
func (t *Thermostat) setSerial(deviceID string) {
	if deviceID == "" || deviceID == atagone.UnknownDeviceID {
		return
	}
	serial := t.acc.Info.SerialNumber
	if serial.Value() != deviceID {
		serial.SetValue(deviceID)
	}
}

// SetTarget sends a new heating setpoint, clamped to the configured range
// and rounded to the step.
func (t *Thermostat) SetTarget(ctx context.Context, celsius float64) (float64, error) {
	v := t.clamp(celsius)
	if err := t.ctrl.UpdateControl(ctx, atagone.TargetTemperatureControl(v)); err != nil {
		return v, err
	}
	if t.opts.Refresher != nil {
		t.opts.Refresher.Trigger()
	}
	return v, nil
}

// ListenAndServe publishes the accessory until ctx is cancelled. Pairing
// state is kept in StoragePath, or in memory when it is empty.
func (t *Thermostat) ListenAndServe(ctx context.Context) error {
	var store hap.Store
	if t.opts.StoragePath != "" {
		store = hap.NewFsStore(t.opts.StoragePath)
	} else {
		store = hap.NewMemStore()
	}

	server, err := hap.NewServer(store, t.acc.A)
	if err != nil {
		return fmt.Errorf("homekit server: %w", err)
	}
	server.Pin = t.opts.Pin
	if t.opts.Port > 0 {
		server.Addr = fmt.Sprintf(":%d", t.opts.Port)
	}

	t.logInfo("homekit accessory published", "name", t.opts.Name, "port", t.opts.Port)
	return server.ListenAndServe(ctx)
}

func (t *Thermostat) onRemoteTarget(v float64) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	sent, err := t.SetTarget(ctx, v)
	if err != nil {
		t.logWarn("homekit target update failed", "value", v, "error", err)
		return
	}
	t.logInfo("homekit target updated", "value", sent)
}

// onRemoteMode pins the mode to heat; the controller has no cooling or off mode.
func (t *Thermostat) onRemoteMode(v int) {
	if v == characteristic.TargetHeatingCoolingStateHeat {
		return
	}
	_ = t.acc.Thermostat.TargetHeatingCoolingState.SetValue(characteristic.TargetHeatingCoolingStateHeat)
}

func (t *Thermostat) clamp(v float64) float64 {
	return clampTarget(v, t.opts.MinTarget, t.opts.MaxTarget, t.opts.Step)
}

func clampTarget(v, lo, hi, step float64) float64 {
	if step > 0 {
		v = math.Round(v/step) * step
	}
	return math.Min(math.Max(v, lo), hi)
}

func (t *Thermostat) logInfo(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Info(msg, args...)
	}
}

func (t *Thermostat) logWarn(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, args...)
	}
}

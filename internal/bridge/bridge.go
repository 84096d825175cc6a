package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/atagone-core/internal/atagone"
	"github.com/nerrad567/atagone-core/internal/infrastructure/mqtt"
)

// Bridge defaults.
const (
	DefaultBridgeID       = "atagone-core"
	DefaultCommandTimeout = 10 * time.Second
	DefaultMinTarget      = 16.0
	DefaultMaxTarget      = 25.0
)

// MQTTClient is the broker connection the bridge needs.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Device is the write side of the controller. *atagone.Device satisfies it.
type Device interface {
	UpdateControl(ctx context.Context, control atagone.Control) error
	Endpoint() atagone.Endpoint
	DiscoveryStats() atagone.ListenerStats
}

// PollControl lets the bridge request early polls and read poll counters.
// *Poller satisfies it.
type PollControl interface {
	Trigger()
	Stats() PollStats
}

// Options configures a Bridge.
type Options struct {
	// BridgeID names this instance in health topics. Usually the MQTT client id.
	BridgeID string
	Version  string
	QoS      byte

	HealthInterval time.Duration
	CommandTimeout time.Duration

	// MinTarget and MaxTarget bound set_target_temperature.
	MinTarget float64
	MaxTarget float64

	Device Device
	MQTT   MQTTClient

	// Poller is optional. When set, successful commands trigger a refresh.
	Poller PollControl

	Logger Logger
}

// Bridge connects the controller to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   Options
	device Device
	mqtt   MQTTClient
	poller PollControl
	health *HealthReporter
	logger Logger

	stateMu     sync.RWMutex
	deviceID    string
	publishedEp atagone.Endpoint

	commands        atomic.Uint64
	commandFailures atomic.Uint64
	publishFailures atomic.Uint64

	lifeMu    sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to subscribe and begin health reporting.
func New(opts Options) (*Bridge, error) {
	if opts.Device == nil {
		return nil, errors.New("bridge: device is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = DefaultBridgeID
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.MinTarget == 0 && opts.MaxTarget == 0 {
		opts.MinTarget, opts.MaxTarget = DefaultMinTarget, DefaultMaxTarget
	}
	if opts.MinTarget >= opts.MaxTarget {
		return nil, fmt.Errorf("bridge: min target %.1f must be below max target %.1f", opts.MinTarget, opts.MaxTarget)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:      opts,
		device:    opts.Device,
		mqtt:      opts.MQTT,
		poller:    opts.Poller,
		logger:    loggerOrNop(opts.Logger),
		ctx:       ctx,
		ctxCancel: cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		QoS:       opts.QoS,
		Publisher: opts.MQTT,
		Snapshot:  b.healthSnapshot,
		Logger:    opts.Logger,
	})
	return b, nil
}

// Start subscribes to commands and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.CommandSubscription()
	if err := b.mqtt.Subscribe(topic, b.opts.QoS, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	b.logger.Info("bridge started", "bridge_id", b.opts.BridgeID)
	return nil
}

// Stop cancels in-flight commands, waits for them, and publishes a final
// "stopping" health status. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.lifeMu.Lock()
		b.stopped = true
		b.lifeMu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// DeviceID returns the id seen in the most recent report, or "" before the first.
func (b *Bridge) DeviceID() string {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.deviceID
}

// Health evaluates the bridge's current health.
func (b *Bridge) Health() HealthMessage {
	return b.health.Message(b.health.Current())
}

// ReportUpdated publishes the report as retained state. It implements ReportSink.
func (b *Bridge) ReportUpdated(_ context.Context, deviceID string, reply *atagone.RetrieveReply) error {
	if reply == nil {
		return nil
	}
	ep := b.device.Endpoint()

	b.stateMu.Lock()
	b.deviceID = deviceID
	endpointDue := ep != b.publishedEp
	b.stateMu.Unlock()

	msg := StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Endpoint:  ep.String(),
		Status:    reply.Status,
		Report:    reply.Report,
	}
	if reply.Report != nil {
		msg.Heating = reply.Report.Heating()
	}
	if err := b.publishJSON(mqtt.Topics{}.State(deviceID), msg, true); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}

	if endpointDue && !ep.IsZero() {
		return b.publishEndpoint(deviceID, ep)
	}
	return nil
}

// EndpointChanged publishes the new endpoint. It implements EndpointObserver.
// Before the first report the device id is unknown; the endpoint is then
// published alongside the first state message instead.
func (b *Bridge) EndpointChanged(ep atagone.Endpoint) {
	deviceID := b.DeviceID()
	if deviceID == "" || ep.IsZero() {
		return
	}
	if err := b.publishEndpoint(deviceID, ep); err != nil {
		b.logger.Warn("failed to publish endpoint", "endpoint", ep.String(), "error", err)
	}
}

func (b *Bridge) publishEndpoint(deviceID string, ep atagone.Endpoint) error {
	msg := EndpointMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Endpoint:  ep.String(),
	}
	if err := b.publishJSON(mqtt.Topics{}.Endpoint(deviceID), msg, true); err != nil {
		return fmt.Errorf("publish endpoint: %w", err)
	}
	b.stateMu.Lock()
	b.publishedEp = ep
	b.stateMu.Unlock()
	return nil
}

// handleCommandMessage is the MQTT handler for atagone/command/+.
// Commands run off the MQTT callback goroutine.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	target, ok := mqtt.ParseCommandTopic(topic)
	if !ok {
		b.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return
	}

	b.lifeMu.Lock()
	if b.stopped {
		b.lifeMu.Unlock()
		return
	}
	b.wg.Add(1)
	b.lifeMu.Unlock()

	go func() {
		defer b.wg.Done()
		b.handleCommand(target, payload)
	}()
}

func (b *Bridge) handleCommand(target string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command payload", "device", target, "error", err)
		b.commands.Add(1)
		b.commandFailures.Add(1)
		b.publishAck(target, NewAck(CommandMessage{ID: uuid.NewString()}, target,
			fmt.Errorf("%w: %v", ErrInvalidParameters, err)))
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.commands.Add(1)
	err := b.ExecuteCommand(b.ctx, cmd)
	if err != nil {
		b.commandFailures.Add(1)
		b.logger.Warn("command failed",
			"command_id", cmd.ID,
			"command", cmd.Command,
			"error", err,
		)
	} else {
		b.logger.Info("command executed", "command_id", cmd.ID, "command", cmd.Command)
	}

	b.publishAck(target, NewAck(cmd, target, err))
}

// ExecuteCommand validates and runs one command against the device.
func (b *Bridge) ExecuteCommand(ctx context.Context, cmd CommandMessage) error {
	control, err := b.controlFor(cmd)
	if err != nil {
		return err
	}

	if control != nil {
		cmdCtx, cancel := context.WithTimeout(ctx, b.opts.CommandTimeout)
		defer cancel()
		if err := b.device.UpdateControl(cmdCtx, control); err != nil {
			return err
		}
	}

	if b.poller != nil {
		b.poller.Trigger()
	}
	return nil
}

// controlFor maps a command to the control block to send. A nil control
// with nil error means the command needs no device write.
func (b *Bridge) controlFor(cmd CommandMessage) (atagone.Control, error) {
	switch cmd.Command {
	case CommandSetTargetTemperature:
		value, err := floatParam(cmd.Parameters, "value")
		if err != nil {
			return nil, err
		}
		if value < b.opts.MinTarget || value > b.opts.MaxTarget {
			return nil, fmt.Errorf("%w: target %.1f outside %.1f..%.1f",
				ErrInvalidParameters, value, b.opts.MinTarget, b.opts.MaxTarget)
		}
		return atagone.TargetTemperatureControl(value), nil

	case CommandUpdateControl:
		raw, ok := cmd.Parameters["control"].(map[string]any)
		if !ok || len(raw) == 0 {
			return nil, fmt.Errorf("%w: control must be a non-empty object", ErrInvalidParameters)
		}
		return atagone.Control(raw), nil

	case CommandRefresh:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidParameters, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidParameters, key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidParameters, key)
	}
}

func (b *Bridge) publishAck(target string, ack AckMessage) {
	if err := b.publishJSON(mqtt.Topics{}.Ack(target), ack, false); err != nil {
		b.logger.Error("failed to publish ack", "command_id", ack.CommandID, "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.mqtt.Publish(topic, payload, b.opts.QoS, retained); err != nil {
		b.publishFailures.Add(1)
		return err
	}
	return nil
}

func (b *Bridge) healthSnapshot() HealthSnapshot {
	b.stateMu.RLock()
	deviceID := b.deviceID
	b.stateMu.RUnlock()

	ep := b.device.Endpoint()
	snap := HealthSnapshot{
		Status: HealthHealthy,
		Device: &DeviceHealth{
			ID:        deviceID,
			Endpoint:  ep.String(),
			Discovery: b.device.DiscoveryStats(),
		},
		Statistics: &BridgeStatistics{
			Commands:        b.commands.Load(),
			CommandFailures: b.commandFailures.Load(),
			PublishFailures: b.publishFailures.Load(),
		},
	}

	var pollErr string
	if b.poller != nil {
		ps := b.poller.Stats()
		snap.Statistics.Polls = ps.Polls
		snap.Statistics.PollFailures = ps.Failures
		if !ps.LastSuccess.IsZero() {
			last := ps.LastSuccess.UTC()
			snap.Device.LastReport = &last
		}
		pollErr = ps.LastError
	}

	switch {
	case ep.IsZero():
		snap.Status = HealthDegraded
		snap.Reason = "controller endpoint unknown"
	case pollErr != "":
		snap.Status = HealthDegraded
		snap.Reason = "last poll failed: " + pollErr
	}
	return snap
}

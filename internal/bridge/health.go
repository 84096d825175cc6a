package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/atagone-core/internal/infrastructure/mqtt"
)

// DefaultHealthInterval is how often health is published when unset.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSnapshot is what the bridge knows about itself at a point in time.
type HealthSnapshot struct {
	Status     HealthStatus
	Reason     string
	Device     *DeviceHealth
	Statistics *BridgeStatistics
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	QoS       byte
	Publisher HealthPublisher

	// Snapshot supplies device state and counters. Optional.
	Snapshot func() HealthSnapshot

	Logger Logger
}

// HealthReporter publishes retained health messages on an interval.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	qos       byte
	publisher HealthPublisher
	snapshot  func() HealthSnapshot
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a reporter. Call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		qos:       cfg.QoS,
		publisher: cfg.Publisher,
		snapshot:  cfg.Snapshot,
		logger:    loggerOrNop(cfg.Logger),
		done:      make(chan struct{}),
	}
}

// Start publishes immediately and then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the loop and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthSnapshot{Status: HealthStopping, Reason: "bridge stopping"})
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthSnapshot{Status: HealthStarting, Reason: "bridge starting"})
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current evaluates the bridge status without publishing it.
func (h *HealthReporter) Current() HealthSnapshot {
	snap := HealthSnapshot{Status: HealthHealthy}
	if h.snapshot != nil {
		snap = h.snapshot()
		if snap.Status == "" {
			snap.Status = HealthHealthy
		}
	}
	if h.publisher == nil || !h.publisher.IsConnected() {
		snap.Status = HealthDegraded
		snap.Reason = "MQTT disconnected"
	}
	return snap
}

// Message builds the health message for a snapshot.
func (h *HealthReporter) Message(snap HealthSnapshot) HealthMessage {
	return HealthMessage{
		BridgeID:      h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        snap.Status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Device:        snap.Device,
		Statistics:    snap.Statistics,
		Reason:        snap.Reason,
	}
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Error("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) publish(snap HealthSnapshot) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(snap))
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(h.bridgeID), payload, h.qos, true)
}

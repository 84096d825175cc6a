package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

// Poller defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollTimeout  = 10 * time.Second
)

// ReportSource is the read side of the device. *atagone.Device satisfies it.
type ReportSource interface {
	GetReport(ctx context.Context) (*atagone.RetrieveReply, error)
	GetDeviceID(ctx context.Context) (string, error)
}

// ReportSink receives every successfully polled report.
type ReportSink interface {
	ReportUpdated(ctx context.Context, deviceID string, reply *atagone.RetrieveReply) error
}

// EndpointObserver is implemented by sinks that also want endpoint changes.
type EndpointObserver interface {
	EndpointChanged(ep atagone.Endpoint)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between polls. Defaults to DefaultPollInterval.
	Interval time.Duration

	// Timeout bounds a single poll. Defaults to DefaultPollTimeout.
	Timeout time.Duration

	Logger Logger
}

// PollStats is a snapshot of poller counters.
type PollStats struct {
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
}

// Poller fetches the report on an interval and fans it out to sinks.
type Poller struct {
	source   ReportSource
	interval time.Duration
	timeout  time.Duration
	logger   Logger
	trigger  chan struct{}

	sinksMu sync.RWMutex
	sinks   []ReportSink

	statsMu sync.Mutex
	stats   PollStats
}

// NewPoller creates a poller over source.
func NewPoller(source ReportSource, opts PollerOptions, sinks ...ReportSink) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPollTimeout
	}
	return &Poller{
		source:   source,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   loggerOrNop(opts.Logger),
		trigger:  make(chan struct{}, 1),
		sinks:    sinks,
	}
}

// AddSink registers another sink. Safe while Run is active.
func (p *Poller) AddSink(sink ReportSink) {
	if sink == nil {
		return
	}
	p.sinksMu.Lock()
	p.sinks = append(p.sinks, sink)
	p.sinksMu.Unlock()
}

// Run polls immediately and then every interval until ctx is cancelled.
// Poll failures are recorded and logged, never returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx) //nolint:errcheck // Recorded in stats

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
		p.PollOnce(ctx) //nolint:errcheck // Recorded in stats
	}
}

// Trigger asks a running poller for an early poll. Never blocks; repeated
// triggers before the poll runs collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// PollOnce fetches the report and hands it to every sink.
func (p *Poller) PollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reply, err := p.source.GetReport(pollCtx)
	if err != nil {
		p.recordFailure(err)
		if errors.Is(err, atagone.ErrNotConfigured) {
			p.logger.Debug("poll skipped, no endpoint yet")
		} else {
			p.logger.Warn("poll failed", "error", err)
		}
		return err
	}

	deviceID, err := p.source.GetDeviceID(pollCtx)
	if err != nil {
		deviceID = atagone.UnknownDeviceID
	}

	p.recordSuccess(deviceID)

	for _, sink := range p.snapshotSinks() {
		if sinkErr := p.deliver(ctx, sink, deviceID, reply); sinkErr != nil {
			p.logger.Warn("report sink failed",
				"sink", fmt.Sprintf("%T", sink),
				"error", sinkErr,
			)
		}
	}
	return nil
}

// EndpointChanged forwards an endpoint change to observers and requests a
// fresh poll against the new address.
func (p *Poller) EndpointChanged(ep atagone.Endpoint) {
	for _, sink := range p.snapshotSinks() {
		obs, ok := sink.(EndpointObserver)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("panic in endpoint observer", "panic", r)
				}
			}()
			obs.EndpointChanged(ep)
		}()
	}
	p.Trigger()
}

// Stats returns a snapshot of poll counters.
func (p *Poller) Stats() PollStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Poller) deliver(ctx context.Context, sink ReportSink, deviceID string, reply *atagone.RetrieveReply) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in report sink: %v", r)
		}
	}()
	return sink.ReportUpdated(ctx, deviceID, reply)
}

func (p *Poller) snapshotSinks() []ReportSink {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()
	return append([]ReportSink(nil), p.sinks...)
}

func (p *Poller) recordSuccess(deviceID string) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Polls++
	p.stats.LastSuccess = time.Now()
	p.stats.LastError = ""
	p.stats.DeviceID = deviceID
}

func (p *Poller) recordFailure(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Polls++
	p.stats.Failures++
	p.stats.LastError = err.Error()
}

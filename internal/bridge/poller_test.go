package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

func TestPoller_PollOnce(t *testing.T) {
	dev := newFakeDevice(t)
	sink := &recordingSink{}
	p := NewPoller(dev, PollerOptions{}, sink)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	if sink.count() != 1 || sink.ids[0] != dev.deviceID {
		t.Errorf("sink ids = %v", sink.ids)
	}
	stats := p.Stats()
	if stats.Polls != 1 || stats.Failures != 0 || stats.LastSuccess.IsZero() || stats.DeviceID != dev.deviceID {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestPoller_PollFailure(t *testing.T) {
	dev := newFakeDevice(t)
	dev.reportErr = &atagone.TransportError{Err: errors.New("connection refused")}
	sink := &recordingSink{}
	p := NewPoller(dev, PollerOptions{}, sink)

	err := p.PollOnce(context.Background())
	if !errors.Is(err, atagone.ErrTransport) {
		t.Fatalf("PollOnce() error = %v, want ErrTransport", err)
	}
	if sink.count() != 0 {
		t.Error("sink called after failed poll")
	}
	stats := p.Stats()
	if stats.Failures != 1 || stats.LastError == "" {
		t.Errorf("Stats() = %+v", stats)
	}

	// Recovery clears the last error.
	dev.mu.Lock()
	dev.reportErr = nil
	dev.mu.Unlock()
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stats := p.Stats(); stats.LastError != "" || stats.Polls != 2 {
		t.Errorf("Stats() after recovery = %+v", stats)
	}
}

func TestPoller_SinkFailuresIsolated(t *testing.T) {
	dev := newFakeDevice(t)
	panicking := &recordingSink{panics: true}
	failing := &recordingSink{err: errors.New("write failed")}
	healthy := &recordingSink{}
	p := NewPoller(dev, PollerOptions{}, panicking, failing)
	p.AddSink(healthy)
	p.AddSink(nil)

	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if failing.count() != 1 || healthy.count() != 1 {
		t.Errorf("sink calls failing=%d healthy=%d, want 1 each", failing.count(), healthy.count())
	}
}

func TestPoller_EndpointChanged(t *testing.T) {
	sink := &recordingSink{}
	p := NewPoller(newFakeDevice(t), PollerOptions{}, sink)

	p.EndpointChanged("http://10.0.0.20:10000")

	if len(sink.endpoints) != 1 || sink.endpoints[0] != "http://10.0.0.20:10000" {
		t.Errorf("observer endpoints = %v", sink.endpoints)
	}
	select {
	case <-p.trigger:
	default:
		t.Error("EndpointChanged() did not trigger a poll")
	}
}

func TestPoller_TriggerCollapses(t *testing.T) {
	p := NewPoller(newFakeDevice(t), PollerOptions{})
	for n := 0; n < 5; n++ {
		p.Trigger()
	}
	if got := len(p.trigger); got != 1 {
		t.Errorf("pending triggers = %d, want 1", got)
	}
}

func TestPoller_Run(t *testing.T) {
	dev := newFakeDevice(t)
	sink := &recordingSink{}
	p := NewPoller(dev, PollerOptions{Interval: 10 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if sink.count() < 3 {
		t.Errorf("sink calls = %d, want >= 3", sink.count())
	}
}

func TestPoller_NotConfiguredIsQuiet(t *testing.T) {
	dev := newFakeDevice(t)
	dev.reportErr = atagone.ErrNotConfigured
	p := NewPoller(dev, PollerOptions{})

	if err := p.PollOnce(context.Background()); !errors.Is(err, atagone.ErrNotConfigured) {
		t.Errorf("PollOnce() error = %v, want ErrNotConfigured", err)
	}
	if dev.reportCount() != 1 {
		t.Errorf("GetReport calls = %d, want 1", dev.reportCount())
	}
}

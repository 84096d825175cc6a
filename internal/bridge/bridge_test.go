package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

func newTestBridge(t *testing.T, dev *fakeDevice, client *MockMQTTClient, poller PollControl) *Bridge {
	t.Helper()
	b, err := New(Options{
		BridgeID: "test-bridge",
		Version:  "1.0.0",
		QoS:      1,
		Device:   dev,
		MQTT:     client,
		Poller:   poller,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestNew_Validation(t *testing.T) {
	dev := newFakeDevice(t)
	client := NewMockMQTTClient()

	tests := []struct {
		name string
		opts Options
	}{
		{"no device", Options{MQTT: client}},
		{"no mqtt", Options{Device: dev}},
		{"inverted range", Options{Device: dev, MQTT: client, MinTarget: 25, MaxTarget: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestBridge_StartSubscribesAndReportsHealth(t *testing.T) {
	client := NewMockMQTTClient()
	b := newTestBridge(t, newFakeDevice(t), client, nil)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !client.SimulateMessage("atagone/command/+", "atagone/command/x", []byte(`{"command":"refresh"}`)) {
		t.Fatal("no handler subscribed on atagone/command/+")
	}

	msg := waitForPublished(t, client, "atagone/health/test-bridge")
	if !msg.Retained {
		t.Error("health message not retained")
	}

	b.Stop()
	health := client.PublishedOn("atagone/health/test-bridge")
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final health status = %q, want stopping", last.Status)
	}
}

func TestBridge_ReportUpdated(t *testing.T) {
	client := NewMockMQTTClient()
	dev := newFakeDevice(t)
	b := newTestBridge(t, dev, client, nil)
	reply := sampleReply(t)

	if err := b.ReportUpdated(context.Background(), "dev-1", reply); err != nil {
		t.Fatalf("ReportUpdated() error = %v", err)
	}

	state := client.PublishedOn("atagone/state/dev-1")
	if len(state) != 1 || !state[0].Retained {
		t.Fatalf("state messages = %+v, want one retained", state)
	}
	var msg StateMessage
	if err := json.Unmarshal(state[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.DeviceID != "dev-1" || !msg.Heating || msg.Endpoint != "http://10.0.0.9:10000" {
		t.Errorf("state message = %+v", msg)
	}
	if temp, ok := msg.Report.RoomTemp(); !ok || temp != 20.4 {
		t.Errorf("report room_temp = %v, %v", temp, ok)
	}

	// First report also announces the endpoint; the second does not repeat it.
	if got := len(client.PublishedOn("atagone/endpoint/dev-1")); got != 1 {
		t.Errorf("endpoint messages = %d, want 1", got)
	}
	if err := b.ReportUpdated(context.Background(), "dev-1", reply); err != nil {
		t.Fatal(err)
	}
	if got := len(client.PublishedOn("atagone/endpoint/dev-1")); got != 1 {
		t.Errorf("endpoint messages after second report = %d, want 1", got)
	}
	if b.DeviceID() != "dev-1" {
		t.Errorf("DeviceID() = %q", b.DeviceID())
	}
}

func TestBridge_ReportUpdatedPublishError(t *testing.T) {
	client := NewMockMQTTClient()
	client.publishErr = errors.New("broker gone")
	b := newTestBridge(t, newFakeDevice(t), client, nil)

	if err := b.ReportUpdated(context.Background(), "dev-1", sampleReply(t)); err == nil {
		t.Error("ReportUpdated() error = nil, want publish error")
	}
	if got := b.Health().Statistics.PublishFailures; got != 1 {
		t.Errorf("PublishFailures = %d, want 1", got)
	}
}

func TestBridge_EndpointChanged(t *testing.T) {
	client := NewMockMQTTClient()
	dev := newFakeDevice(t)
	b := newTestBridge(t, dev, client, nil)

	// Unknown device id: nothing to publish yet.
	b.EndpointChanged("http://10.0.0.20:10000")
	if got := len(client.PublishedOn("atagone/endpoint/")); got != 0 {
		t.Fatalf("endpoint messages before first report = %d, want 0", got)
	}

	if err := b.ReportUpdated(context.Background(), "dev-1", sampleReply(t)); err != nil {
		t.Fatal(err)
	}
	dev.setEndpoint("http://10.0.0.20:10000")
	b.EndpointChanged("http://10.0.0.20:10000")

	msgs := client.PublishedOn("atagone/endpoint/dev-1")
	var last EndpointMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Endpoint != "http://10.0.0.20:10000" {
		t.Errorf("endpoint message = %+v", last)
	}
}

func TestBridge_ExecuteCommand(t *testing.T) {
	tests := []struct {
		name        string
		cmd         CommandMessage
		wantErr     error
		wantControl atagone.Control
	}{
		{
			name:        "set target temperature",
			cmd:         CommandMessage{Command: CommandSetTargetTemperature, Parameters: map[string]any{"value": 21.5}},
			wantControl: atagone.Control{atagone.ControlTargetTemperature: 21.5},
		},
		{
			name:        "set target temperature from string",
			cmd:         CommandMessage{Command: CommandSetTargetTemperature, Parameters: map[string]any{"value": "19"}},
			wantControl: atagone.Control{atagone.ControlTargetTemperature: 19.0},
		},
		{
			name:    "target above range",
			cmd:     CommandMessage{Command: CommandSetTargetTemperature, Parameters: map[string]any{"value": 30.0}},
			wantErr: ErrInvalidParameters,
		},
		{
			name:    "target below range",
			cmd:     CommandMessage{Command: CommandSetTargetTemperature, Parameters: map[string]any{"value": 5.0}},
			wantErr: ErrInvalidParameters,
		},
		{
			name:    "target missing",
			cmd:     CommandMessage{Command: CommandSetTargetTemperature},
			wantErr: ErrInvalidParameters,
		},
		{
			name:    "target not a number",
			cmd:     CommandMessage{Command: CommandSetTargetTemperature, Parameters: map[string]any{"value": true}},
			wantErr: ErrInvalidParameters,
		},
		{
			name: "update control",
			cmd: CommandMessage{Command: CommandUpdateControl, Parameters: map[string]any{
				"control": map[string]any{"dhw_temp_setp": 55.0},
			}},
			wantControl: atagone.Control{"dhw_temp_setp": 55.0},
		},
		{
			name:    "update control empty",
			cmd:     CommandMessage{Command: CommandUpdateControl, Parameters: map[string]any{"control": map[string]any{}}},
			wantErr: ErrInvalidParameters,
		},
		{
			name: "refresh",
			cmd:  CommandMessage{Command: CommandRefresh},
		},
		{
			name:    "unknown",
			cmd:     CommandMessage{Command: "reboot"},
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(t)
			poller := &fakePoller{}
			b := newTestBridge(t, dev, NewMockMQTTClient(), poller)

			err := b.ExecuteCommand(context.Background(), tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExecuteCommand() error = %v, want %v", err, tt.wantErr)
				}
				if len(dev.getControls()) != 0 {
					t.Error("device written despite invalid command")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExecuteCommand() error = %v", err)
			}
			if poller.triggerCount() != 1 {
				t.Errorf("poller triggers = %d, want 1", poller.triggerCount())
			}

			controls := dev.getControls()
			if tt.wantControl == nil {
				if len(controls) != 0 {
					t.Errorf("controls = %v, want none", controls)
				}
				return
			}
			if len(controls) != 1 {
				t.Fatalf("controls = %v, want one", controls)
			}
			for k, v := range tt.wantControl {
				if controls[0][k] != v {
					t.Errorf("control[%s] = %v, want %v", k, controls[0][k], v)
				}
			}
		})
	}
}

func TestBridge_CommandAck(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		updateErr  error
		wantStatus AckStatus
		wantCode   string
	}{
		{"accepted", `{"id":"c-1","command":"set_target_temperature","parameters":{"value":20}}`, nil, AckAccepted, ""},
		{"invalid json", `{nope`, nil, AckFailed, ErrCodeInvalidParameters},
		{"unknown command", `{"id":"c-1","command":"explode"}`, nil, AckFailed, ErrCodeInvalidCommand},
		{"device unreachable", `{"id":"c-1","command":"set_target_temperature","parameters":{"value":20}}`,
			&atagone.TransportError{StatusCode: http.StatusServiceUnavailable}, AckFailed, ErrCodeDeviceUnreachable},
		{"not configured", `{"id":"c-1","command":"set_target_temperature","parameters":{"value":20}}`,
			fmt.Errorf("update: %w", atagone.ErrNotConfigured), AckFailed, ErrCodeNotConfigured},
		{"timeout", `{"id":"c-1","command":"set_target_temperature","parameters":{"value":20}}`,
			&atagone.TransportError{Err: context.DeadlineExceeded}, AckTimeout, ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			dev := newFakeDevice(t)
			dev.updateErr = tt.updateErr
			b := newTestBridge(t, dev, client, nil)

			b.handleCommand("dev-1", []byte(tt.payload))

			acks := client.PublishedOn("atagone/ack/dev-1")
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			if acks[0].Retained {
				t.Error("ack retained")
			}
			var ack AckMessage
			if err := json.Unmarshal(acks[0].Payload, &ack); err != nil {
				t.Fatal(err)
			}
			if ack.Status != tt.wantStatus {
				t.Errorf("ack status = %q, want %q", ack.Status, tt.wantStatus)
			}
			if ack.CommandID == "" {
				t.Error("ack has no command id")
			}
			if tt.wantCode == "" {
				if ack.Error != nil {
					t.Errorf("ack error = %+v, want none", ack.Error)
				}
				return
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestBridge_CommandViaMQTT(t *testing.T) {
	client := NewMockMQTTClient()
	dev := newFakeDevice(t)
	b := newTestBridge(t, dev, client, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	client.SimulateMessage("atagone/command/+", "atagone/command/dev-1",
		[]byte(`{"command":"set_target_temperature","parameters":{"value":22}}`))

	msg := waitForPublished(t, client, "atagone/ack/dev-1")
	var ack AckMessage
	if err := json.Unmarshal(msg.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Status != AckAccepted || ack.CommandID == "" {
		t.Errorf("ack = %+v", ack)
	}
	if got := b.Health().Statistics.Commands; got != 1 {
		t.Errorf("Commands = %d, want 1", got)
	}
}

func TestBridge_IgnoresCommandsAfterStop(t *testing.T) {
	client := NewMockMQTTClient()
	dev := newFakeDevice(t)
	b := newTestBridge(t, dev, client, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	b.Stop()

	client.SimulateMessage("atagone/command/+", "atagone/command/dev-1",
		[]byte(`{"command":"set_target_temperature","parameters":{"value":22}}`))

	if got := len(client.PublishedOn("atagone/ack/")); got != 0 {
		t.Errorf("acks after Stop = %d, want 0", got)
	}
	if len(dev.getControls()) != 0 {
		t.Error("device written after Stop")
	}
}

func TestBridge_HealthSnapshot(t *testing.T) {
	tests := []struct {
		name       string
		endpoint   atagone.Endpoint
		pollErr    string
		connected  bool
		wantStatus HealthStatus
	}{
		{"healthy", "http://10.0.0.9:10000", "", true, HealthHealthy},
		{"no endpoint", "", "", true, HealthDegraded},
		{"poll failing", "http://10.0.0.9:10000", "connection refused", true, HealthDegraded},
		{"mqtt down", "http://10.0.0.9:10000", "", false, HealthDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewMockMQTTClient()
			client.setConnected(tt.connected)
			dev := newFakeDevice(t)
			dev.setEndpoint(tt.endpoint)
			poller := &fakePoller{stats: PollStats{Polls: 4, Failures: 1, LastError: tt.pollErr}}
			b := newTestBridge(t, dev, client, poller)

			h := b.Health()
			if h.Status != tt.wantStatus {
				t.Errorf("Health().Status = %q (%s), want %q", h.Status, h.Reason, tt.wantStatus)
			}
			if h.Statistics.Polls != 4 || h.Statistics.PollFailures != 1 {
				t.Errorf("Health().Statistics = %+v", h.Statistics)
			}
			if !h.Device.Discovery.Running {
				t.Error("Health().Device.Discovery not populated")
			}
		})
	}
}

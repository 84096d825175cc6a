package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	connected  bool
	handlers   map[string]func(topic string, payload []byte)
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublish, len(m.published))
	copy(result, m.published)
	return result
}

// PublishedOn returns messages whose topic starts with prefix.
func (m *MockMQTTClient) PublishedOn(prefix string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if strings.HasPrefix(p.Topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

// waitForPublished polls until a message on prefix appears.
func waitForPublished(t *testing.T, m *MockMQTTClient, prefix string) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := m.PublishedOn(prefix); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", prefix)
	return mockPublish{}
}

// fakeDevice implements Device and ReportSource.
type fakeDevice struct {
	mu        sync.Mutex
	endpoint  atagone.Endpoint
	controls  []atagone.Control
	updateErr error
	reply     *atagone.RetrieveReply
	reportErr error
	deviceID  string
	reports   int
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	return &fakeDevice{
		endpoint: "http://10.0.0.9:10000",
		reply:    sampleReply(t),
		deviceID: "6808-1401-3109_15-30-001-544",
	}
}

func (f *fakeDevice) UpdateControl(ctx context.Context, control atagone.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.updateErr != nil {
		return f.updateErr
	}
	f.controls = append(f.controls, control)
	return nil
}

func (f *fakeDevice) Endpoint() atagone.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func (f *fakeDevice) setEndpoint(ep atagone.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoint = ep
}

func (f *fakeDevice) DiscoveryStats() atagone.ListenerStats {
	return atagone.ListenerStats{Running: true, PacketsRx: 3, Announcements: 2}
}

func (f *fakeDevice) GetReport(context.Context) (*atagone.RetrieveReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports++
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.reply, nil
}

func (f *fakeDevice) GetDeviceID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return "", f.reportErr
	}
	return f.deviceID, nil
}

func (f *fakeDevice) getControls() []atagone.Control {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]atagone.Control(nil), f.controls...)
}

func (f *fakeDevice) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports
}

func sampleReply(t *testing.T) *atagone.RetrieveReply {
	t.Helper()
	var reply atagone.RetrieveReply
	raw := `{
		"seqnr": 1,
		"status": {"device_id": "6808-1401-3109_15-30-001-544", "device_status": 16385},
		"report": {"room_temp": 20.4, "shown_set_temp": 21.0, "boiler_status": 8, "ch_water_pres": 1.6}
	}`
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		t.Fatalf("sample reply: %v", err)
	}
	return &reply
}

// recordingSink implements ReportSink and EndpointObserver.
type recordingSink struct {
	mu        sync.Mutex
	ids       []string
	endpoints []atagone.Endpoint
	err       error
	panics    bool
}

func (s *recordingSink) ReportUpdated(_ context.Context, deviceID string, _ *atagone.RetrieveReply) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, deviceID)
	return s.err
}

func (s *recordingSink) EndpointChanged(ep atagone.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, ep)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// fakePoller implements PollControl.
type fakePoller struct {
	mu       sync.Mutex
	triggers int
	stats    PollStats
}

func (p *fakePoller) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.triggers++
}

func (p *fakePoller) Stats() PollStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *fakePoller) triggerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggers
}

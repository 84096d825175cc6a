package atagone

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// sampleRetrieveReply is a trimmed reply captured from a real controller.
const sampleRetrieveReply = `{
  "retrieve_reply": {
    "seqnr": 1,
    "status": {
      "device_id": "6808-1401-3109_15-30-001-544",
      "device_status": 16385,
      "connection_status": 23,
      "date_time": 503187986
    },
    "report": {
      "report_time": 503187986,
      "burning_hours": 4389.61,
      "device_errors": "",
      "boiler_errors": "",
      "room_temp": 20.4,
      "outside_temp": 7.2,
      "dbg_outside_temp": 7.2,
      "pcb_temp": 24.5,
      "ch_setpoint": 35.1,
      "dhw_water_temp": 42.3,
      "ch_water_temp": 31.8,
      "dhw_water_pres": 0,
      "ch_water_pres": 1.8,
      "ch_return_temp": 29.9,
      "boiler_status": 778,
      "boiler_config": 772,
      "ch_time_to_temp": 0,
      "shown_set_temp": 20.5,
      "power_cons": 1374,
      "tout_avg": 8.1,
      "rssi": 31,
      "current": 56,
      "voltage": 3819,
      "charge_status": 0,
      "lmuc_burner_starts": 0,
      "dhw_flow_rate": 0,
      "resets": 4,
      "memory_allocation": 5712
    },
    "acc_status": 2
  }
}`

// fakeDevice is an httptest server that behaves like the controller's
// HTTP interface.
type fakeDevice struct {
	server *httptest.Server

	requests atomic.Int32

	mu          sync.Mutex
	status      int
	body        string
	delay       time.Duration
	lastBody    []byte
	lastHeaders http.Header
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{status: http.StatusOK, body: sampleRetrieveReply}
	d.server = httptest.NewServer(http.HandlerFunc(d.handle))
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDevice) handle(w http.ResponseWriter, r *http.Request) {
	d.requests.Add(1)
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server

	d.mu.Lock()
	d.lastBody = body
	d.lastHeaders = r.Header.Clone()
	status, respBody, delay := d.status, d.body, d.delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	w.WriteHeader(status)
	io.WriteString(w, respBody) //nolint:errcheck // Test server
}

func (d *fakeDevice) set(status int, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
	d.body = body
}

func (d *fakeDevice) setDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

func (d *fakeDevice) endpoint() Endpoint {
	return Endpoint(d.server.URL)
}

func (d *fakeDevice) count() int {
	return int(d.requests.Load())
}

// lastRequest decodes the most recent request body.
func (d *fakeDevice) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	var out map[string]any
	if err := json.Unmarshal(d.lastBody, &out); err != nil {
		t.Fatalf("request body is not JSON: %v (%s)", err, d.lastBody)
	}
	return out
}

func (d *fakeDevice) lastContentType() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHeaders.Get("Content-Type")
}

// memStore is an in-memory EndpointStore.
type memStore struct {
	mu       sync.Mutex
	ep       Endpoint
	writes   int
	writeErr error
}

func (s *memStore) Read(_ context.Context) (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep, s.ep != ""
}

func (s *memStore) Write(_ context.Context, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.ep = ep
	return nil
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

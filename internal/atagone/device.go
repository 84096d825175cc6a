package atagone

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// UnknownDeviceID is returned by GetDeviceID when the device does not report
// an identity.
const UnknownDeviceID = "Unknown"

// storeWriteTimeout bounds persisting a discovered endpoint.
const storeWriteTimeout = 5 * time.Second

// Options configures a Device.
type Options struct {
	// Endpoint pre-seeds the device address. It takes precedence over the
	// store.
	Endpoint Endpoint

	// Store holds the endpoint between restarts. Optional.
	Store EndpointStore

	// PersistEndpoint reads the store at construction and writes every
	// discovered endpoint back to it.
	PersistEndpoint bool

	// HTTPClient is used for device requests. Nil selects a client with
	// DefaultHTTPTimeout.
	HTTPClient *http.Client

	// CacheWindow is how long a report is reused. Default DefaultCacheWindow.
	CacheWindow time.Duration

	// DiscoveryAddr is the UDP address for announcements. Default ":11000".
	DiscoveryAddr string

	// Logger is optional.
	Logger Logger
}

// Device is the single entry point to one Atag One controller. It owns the
// current endpoint and combines the discovery listener, protocol client and
// report cache.
type Device struct {
	client   *Client
	cache    *ReportCache
	listener *Listener
	store    EndpointStore
	persist  bool
	logger   Logger

	mu       sync.RWMutex
	endpoint Endpoint

	idMu     sync.Mutex
	deviceID string
}

// New creates a Device. The endpoint comes from opts.Endpoint if set,
// otherwise from the store when persistence is enabled.
func New(ctx context.Context, opts Options) (*Device, error) {
	d := &Device{
		client:  NewClient(opts.HTTPClient),
		store:   opts.Store,
		persist: opts.PersistEndpoint && opts.Store != nil,
		logger:  loggerOrNop(opts.Logger),
	}

	switch {
	case !opts.Endpoint.IsZero():
		ep, err := ParseEndpoint(opts.Endpoint.String())
		if err != nil {
			return nil, err
		}
		d.endpoint = ep
		d.logger.Info("device endpoint loaded from configuration", "endpoint", ep.String())
	case d.persist:
		if ep, ok := d.store.Read(ctx); ok {
			d.endpoint = ep
			d.logger.Info("device endpoint loaded from store", "endpoint", ep.String())
		}
	}

	d.cache = NewReportCache(d.retrieve, opts.CacheWindow)
	d.listener = NewListener(d, ListenerOptions{
		Addr:   opts.DiscoveryAddr,
		Logger: opts.Logger,
	})
	return d, nil
}

// Endpoint returns the current endpoint, or "" if none is known.
func (d *Device) Endpoint() Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoint
}

// SwapEndpoint implements EndpointHolder. A changed endpoint clears the
// report cache and is persisted when persistence is enabled; a failed write
// is logged, not returned.
func (d *Device) SwapEndpoint(ep Endpoint) bool {
	d.mu.Lock()
	if d.endpoint == ep {
		d.mu.Unlock()
		return false
	}
	d.endpoint = ep
	d.mu.Unlock()

	// A report from the previous address must not be served for the new one.
	d.cache.Invalidate()

	if d.persist {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		if err := d.store.Write(ctx, ep); err != nil {
			d.logger.Error("failed to persist device endpoint", "endpoint", ep.String(), "error", err)
		}
	}
	return true
}

// GetReport returns the device report, from cache when fresh.
func (d *Device) GetReport(ctx context.Context) (*RetrieveReply, error) {
	if d.Endpoint().IsZero() {
		return nil, errNoEndpoint()
	}
	return d.cache.Get(ctx)
}

// CachedReport returns the last report fetched, however old, without
// contacting the device.
func (d *Device) CachedReport() (*RetrieveReply, time.Time, bool) {
	return d.cache.Peek()
}

// GetDeviceID returns the device identity. Once the device has reported an
// identity it is kept for the lifetime of the Device. If the report carries
// none, UnknownDeviceID is returned and the next call asks again.
func (d *Device) GetDeviceID(ctx context.Context) (string, error) {
	d.idMu.Lock()
	id := d.deviceID
	d.idMu.Unlock()
	if id != "" {
		return id, nil
	}

	reply, err := d.GetReport(ctx)
	if err != nil {
		return "", err
	}

	id, ok := reply.DeviceID()
	if !ok {
		return UnknownDeviceID, nil
	}

	d.idMu.Lock()
	defer d.idMu.Unlock()
	if d.deviceID == "" {
		d.deviceID = id
	}
	return d.deviceID, nil
}

// UpdateControl sends control to the device. It is never cached; on success
// the cached report is dropped so the next read sees the change.
func (d *Device) UpdateControl(ctx context.Context, control Control) error {
	if err := d.client.Update(ctx, d.Endpoint(), control); err != nil {
		return err
	}
	d.cache.Invalidate()
	return nil
}

// UpdateField sets a single control field.
func (d *Device) UpdateField(ctx context.Context, field string, value any) error {
	if field == "" {
		return fmt.Errorf("atagone: empty control field")
	}
	return d.UpdateControl(ctx, Control{field: value})
}

// StartDiscovery starts listening for announcements. onChange is called
// with each new endpoint after it has been applied.
func (d *Device) StartDiscovery(onChange func(Endpoint), onError func(error)) error {
	return d.listener.Start(onChange, onError)
}

// StopDiscovery stops listening for announcements.
func (d *Device) StopDiscovery() error {
	return d.listener.Stop()
}

// DiscoveryStats returns discovery listener statistics.
func (d *Device) DiscoveryStats() ListenerStats {
	return d.listener.Stats()
}

// DiscoveryAddr returns the bound discovery address, or "" when stopped.
func (d *Device) DiscoveryAddr() string {
	addr := d.listener.LocalAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

// retrieve is the report cache's fetch function. It reads the endpoint at
// fetch time so a discovery update applies to the very next request.
func (d *Device) retrieve(ctx context.Context) (*RetrieveReply, error) {
	ep := d.Endpoint()
	reply, err := d.client.Retrieve(ctx, ep)
	if err != nil {
		d.logger.Debug("report retrieve failed", "endpoint", ep.String(), "error", err)
		return nil, err
	}
	return reply, nil
}

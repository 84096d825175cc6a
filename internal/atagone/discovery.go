package atagone

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Discovery constants.
const (
	// announcementPrefix starts every broadcast the controller sends.
	announcementPrefix = "ONE "

	// discoveryBufferSize is larger than any announcement the controller sends.
	discoveryBufferSize = 2048

	// readErrorBackoff throttles the read loop after a socket error.
	readErrorBackoff = 100 * time.Millisecond
)

// EndpointHolder owns the current endpoint. SwapEndpoint replaces it and
// reports whether the value changed. Implementations must make the swap
// atomic with respect to readers.
type EndpointHolder interface {
	SwapEndpoint(ep Endpoint) bool
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Addr is the UDP address to bind. Default ":11000".
	Addr string

	// Logger is optional.
	Logger Logger
}

// ListenerStats reports listener activity.
type ListenerStats struct {
	Running          bool      `json:"running"`
	PacketsRx        uint64    `json:"packets_rx"`
	Announcements    uint64    `json:"announcements"`
	EndpointChanges  uint64    `json:"endpoint_changes"`
	Errors           uint64    `json:"errors"`
	LastAnnouncement time.Time `json:"last_announcement,omitzero"`
}

// Listener watches for controller announcements and keeps the holder's
// endpoint in line with the address they come from.
//
// State machine: stopped → started → stopped. Start while started and Stop
// while stopped are no-ops.
type Listener struct {
	holder EndpointHolder
	addr   string
	logger Logger

	mu   sync.Mutex
	conn *net.UDPConn

	packetsRx        atomic.Uint64
	announcements    atomic.Uint64
	endpointChanges  atomic.Uint64
	errorsTotal      atomic.Uint64
	lastAnnouncement atomic.Int64
}

// NewListener creates a stopped listener that reconciles announcements
// against holder.
func NewListener(holder EndpointHolder, opts ListenerOptions) *Listener {
	addr := opts.Addr
	if addr == "" {
		addr = ":" + strconv.Itoa(DiscoveryPort)
	}
	return &Listener{
		holder: holder,
		addr:   addr,
		logger: loggerOrNop(opts.Logger),
	}
}

// Start binds the discovery socket and begins processing announcements.
//
// onUpdate is called once per endpoint change, from the read goroutine,
// before the next packet is read. onError receives socket errors and
// per-packet failures. Either callback may be nil.
func (l *Listener) Start(onUpdate func(Endpoint), onError func(error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", l.addr)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrDiscoveryBind, l.addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiscoveryBind, err)
	}
	l.conn = conn

	l.logger.Info("discovery listener started", "address", conn.LocalAddr().String())
	go l.readLoop(conn, onUpdate, onError)
	return nil
}

// Stop closes the discovery socket. It does not wait for a packet that is
// being handled to finish.
func (l *Listener) Stop() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing discovery socket: %w", err)
	}
	l.logger.Info("discovery listener stopped")
	return nil
}

// Running reports whether the listener is started.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// LocalAddr returns the bound address, or nil when stopped.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stats returns current listener statistics.
func (l *Listener) Stats() ListenerStats {
	stats := ListenerStats{
		Running:         l.Running(),
		PacketsRx:       l.packetsRx.Load(),
		Announcements:   l.announcements.Load(),
		EndpointChanges: l.endpointChanges.Load(),
		Errors:          l.errorsTotal.Load(),
	}
	if ts := l.lastAnnouncement.Load(); ts != 0 {
		stats.LastAnnouncement = time.Unix(0, ts)
	}
	return stats
}

func (l *Listener) readLoop(conn *net.UDPConn, onUpdate func(Endpoint), onError func(error)) {
	buf := make([]byte, discoveryBufferSize)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !l.owns(conn) {
				return
			}
			l.errorsTotal.Add(1)
			l.report(onError, fmt.Errorf("atagone: discovery read: %w", err))

			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				time.Sleep(readErrorBackoff)
			}
			continue
		}

		l.handlePacket(buf[:n], from, onUpdate, onError)
	}
}

// owns reports whether conn is still the listener's active socket.
func (l *Listener) owns(conn *net.UDPConn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn == conn
}

// handlePacket processes one datagram. Panics raised while handling it,
// including from onUpdate, are recovered and passed to onError.
func (l *Listener) handlePacket(payload []byte, from *net.UDPAddr, onUpdate func(Endpoint), onError func(error)) {
	defer func() {
		if r := recover(); r != nil {
			l.errorsTotal.Add(1)
			l.report(onError, fmt.Errorf("atagone: discovery packet handler panic: %v", r))
		}
	}()

	l.packetsRx.Add(1)

	ep, ok, err := parseAnnouncement(payload, from)
	if err != nil {
		l.errorsTotal.Add(1)
		l.report(onError, err)
		return
	}
	if !ok {
		return
	}

	l.announcements.Add(1)
	l.lastAnnouncement.Store(time.Now().UnixNano())

	if !l.holder.SwapEndpoint(ep) {
		return
	}

	l.endpointChanges.Add(1)
	l.logger.Info("device endpoint changed", "endpoint", ep.String())
	if onUpdate != nil {
		onUpdate(ep)
	}
}

// report hands err to onError, or logs it when there is no callback.
// A panicking onError is logged and swallowed.
func (l *Listener) report(onError func(error), err error) {
	if onError == nil {
		l.logger.Warn("discovery error", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("discovery error callback panic", "panic", r, "error", err)
		}
	}()
	onError(err)
}

// parseAnnouncement derives the endpoint from an announcement. It returns
// false without an error for packets that are not announcements.
func parseAnnouncement(payload []byte, from *net.UDPAddr) (Endpoint, bool, error) {
	if !bytes.HasPrefix(payload, []byte(announcementPrefix)) {
		return "", false, nil
	}
	if from == nil {
		return "", false, fmt.Errorf("%w: unknown sender", ErrInvalidAnnouncement)
	}
	ip := from.IP.To4()
	if ip == nil {
		return "", false, fmt.Errorf("%w: sender %s is not IPv4", ErrInvalidAnnouncement, from.IP)
	}
	return EndpointForHost(ip.String()), true, nil
}

package atagone

import (
	"errors"
	"fmt"
)

// Domain errors for the atagone package.
var (
	// ErrNotConfigured is returned when a device call is made before any
	// endpoint is known.
	ErrNotConfigured = errors.New("atagone: device endpoint unknown")

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("atagone: transport failure")

	// ErrProtocol is matched by every ProtocolError.
	ErrProtocol = errors.New("atagone: protocol violation")

	// ErrInvalidEndpoint is returned when an endpoint string cannot be used
	// as an HTTP base URL.
	ErrInvalidEndpoint = errors.New("atagone: invalid endpoint")

	// ErrStoreWrite is returned when the endpoint store cannot persist a record.
	ErrStoreWrite = errors.New("atagone: endpoint store write failed")

	// ErrDiscoveryBind is returned when the discovery socket cannot be bound.
	ErrDiscoveryBind = errors.New("atagone: discovery bind failed")

	// ErrInvalidAnnouncement is reported through the discovery error callback
	// when an announcement cannot be turned into an endpoint.
	ErrInvalidAnnouncement = errors.New("atagone: invalid announcement")
)

// ConfigurationError reports that the device cannot be reached because no
// endpoint has been configured or discovered yet.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("atagone: configuration error: %s", e.Reason)
}

// Is makes errors.Is(err, ErrNotConfigured) hold.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNotConfigured
}

// TransportError reports a failed HTTP exchange. StatusCode is zero when
// no response was received.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("atagone: transport error: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("atagone: transport error: status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("atagone: transport error: %v", e.Err)
	default:
		return "atagone: transport error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ProtocolError reports a 2xx response whose body does not have the
// expected shape.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("atagone: protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("atagone: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProtocol) hold.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// errNoEndpoint is the ConfigurationError used by every call that needs an
// endpoint and finds none.
func errNoEndpoint() error {
	return &ConfigurationError{Reason: "no endpoint known, waiting for discovery or configuration"}
}

package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/atagone-core/internal/atagone"
)

// Command names.
const (
	CommandSetTargetTemperature = "set_target_temperature"
	CommandUpdateControl        = "update_control"
	CommandRefresh              = "refresh"
)

// CommandMessage arrives on atagone/command/{device}.
type CommandMessage struct {
	// ID correlates the acknowledgement. Generated when empty.
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source names the sender, e.g. "homeassistant" or "cli".
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the controller took the update.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or the controller refused it.
	AckFailed AckStatus = "failed"

	// AckTimeout means the controller did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published on atagone/ack/{device}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack error codes.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is the retained snapshot on atagone/state/{device}.
type StateMessage struct {
	DeviceID  string                `json:"device_id"`
	Timestamp time.Time             `json:"timestamp"`
	Endpoint  string                `json:"endpoint,omitempty"`
	Heating   bool                  `json:"heating"`
	Status    *atagone.DeviceStatus `json:"status,omitempty"`
	Report    *atagone.Report       `json:"report"`
}

// EndpointMessage is the retained value on atagone/endpoint/{device}.
type EndpointMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"

	// HealthOffline is only ever published by the broker, as the Last Will.
	HealthOffline HealthStatus = "offline"
)

// HealthMessage is the retained value on atagone/health/{bridge}.
type HealthMessage struct {
	BridgeID      string            `json:"bridge_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Device        *DeviceHealth     `json:"device,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// DeviceHealth describes the controller as seen by the bridge.
type DeviceHealth struct {
	ID         string                `json:"id,omitempty"`
	Endpoint   string                `json:"endpoint,omitempty"`
	LastReport *time.Time            `json:"last_report,omitempty"`
	Discovery  atagone.ListenerStats `json:"discovery"`
}

// BridgeStatistics are counters since start.
type BridgeStatistics struct {
	Polls           uint64 `json:"polls"`
	PollFailures    uint64 `json:"poll_failures"`
	Commands        uint64 `json:"commands"`
	CommandFailures uint64 `json:"command_failures"`
	PublishFailures uint64 `json:"publish_failures"`
}

// NewAck builds the acknowledgement for a command outcome. A nil err is
// accepted; anything else is classified by ClassifyError.
func NewAck(cmd CommandMessage, deviceID string, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
	}
	if err == nil {
		return ack
	}

	code := ClassifyError(err)
	ack.Status = AckFailed
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// ClassifyError maps an error from the device or command validation to an
// ack error code.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, atagone.ErrNotConfigured):
		return ErrCodeNotConfigured
	case errors.Is(err, atagone.ErrTransport):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, atagone.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeBridgeError
	}
}

package dct

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the DCT bridge.
// The envelope shapes follow the other Gray Logic bridges so Core can
// route commands and acks without protocol-specific code.

// Protocol is the protocol segment used in topics and messages.
const Protocol = "dct"

// CommandMessage is sent from Core to the bridge to run a device action.
// Topic: graylogic/command/dct/{bridge}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is an action name, e.g. "play", "record" or "rampPlay".
	Command string `json:"command"`

	// Parameters holds the action parameters as a JSON object.
	// Examples:
	//   {"buffer": 2, "speed": 50} for play
	//   {"buffer": 0, "free_if_used": true} for record
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "panel", "cli"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the action passed its checks and its commands
	// were queued for the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the action was refused or could not be queued.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/dct/{bridge}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`

	// Protocol is always "dct".
	Protocol string `json:"protocol"`

	// Address is the bridge identifier.
	Address string `json:"address"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable  = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeInvalidParameters  = "INVALID_PARAMETERS"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeBridgeError        = "BRIDGE_ERROR"
)

// StateMessage carries a device state snapshot.
// Topic: graylogic/state/dct/{bridge}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Bridge    string      `json:"bridge"`
	Timestamp time.Time   `json:"timestamp"`
	State     DeviceState `json:"state"`
	Protocol  string      `json:"protocol"`
}

// VariablesMessage carries the display variables derived from the state.
// Topic: graylogic/variables/dct/{bridge}
// QoS: 1, Retained: Yes
type VariablesMessage struct {
	Bridge    string            `json:"bridge"`
	Timestamp time.Time         `json:"timestamp"`
	Variables map[string]string `json:"variables"`
}

// HealthStatus represents the health status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates MQTT and the device are both connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT or the device is disconnected.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker through the LWT.
	HealthOffline HealthStatus = "offline"

	// HealthStarting is published during bridge initialisation.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published during graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic bridge health report.
// Topic: graylogic/health/dct
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Buffers       int               `json:"buffers"`
	Reason        string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the device connection.
type ConnectionStatus struct {
	// Status is one of the ConnectionState values.
	Status       ConnectionState `json:"status"`
	Address      string          `json:"address,omitempty"`
	LastActivity *time.Time      `json:"last_activity,omitempty"`
}

// BridgeStatistics contains transport counters.
type BridgeStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	Errors         uint64 `json:"errors"`
	Dials          uint64 `json:"dials"`
	QueueLength    int    `json:"queue_length"`
}

// RequestMessage asks the bridge for data.
// Topic: graylogic/request/dct/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" or "read_variables".
	Action string `json:"action"`

	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	RequestReadState     = "read_state"
	RequestReadVariables = "read_variables"
)

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/dct/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, bridgeID string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   bridgeID,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, bridgeID, code, message string) AckMessage {
	ack := NewAckMessage(cmd, bridgeID, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage wraps a state snapshot for publishing.
func NewStateMessage(bridgeID string, st DeviceState) StateMessage {
	return StateMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		State:     st,
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, conn ConnectionState, stats TransportStats, buffers int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Buffers:       buffers,
		Connection:    &ConnectionStatus{Status: conn},
		Statistics: &BridgeStatistics{
			FramesReceived: stats.FramesRx,
			FramesSent:     stats.FramesTx,
			Errors:         stats.ErrorsTotal,
			Dials:          stats.DialsTotal,
		},
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// CommandTopic returns the command topic for a bridge.
// Example: graylogic/command/dct/dct-01
func CommandTopic(bridgeID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, bridgeID)
}

// AckTopic returns the acknowledgment topic for a bridge.
// Example: graylogic/ack/dct/dct-01
func AckTopic(bridgeID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, bridgeID)
}

// StateTopic returns the retained state topic for a bridge.
// Example: graylogic/state/dct/dct-01
func StateTopic(bridgeID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, bridgeID)
}

// VariablesTopic returns the retained variables topic for a bridge.
// Example: graylogic/variables/dct/dct-01
func VariablesTopic(bridgeID string) string {
	return fmt.Sprintf("%s/variables/%s/%s", TopicPrefix, Protocol, bridgeID)
}

// HealthTopic returns the health topic.
// Example: graylogic/health/dct
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic for a request.
// Example: graylogic/request/dct/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the topic for a response.
// Example: graylogic/response/dct/req-123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, Protocol)
}

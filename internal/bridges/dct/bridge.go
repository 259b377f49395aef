package dct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// minTopicParts is the minimum number of parts in a valid MQTT topic.
const minTopicParts = 3

// Controller is the device surface the bridge drives. *Session satisfies it.
type Controller interface {
	Dispatch(action string, params json.RawMessage) error
	Snapshot() DeviceState
	Subscribe(fn Listener)
	IsConnected() bool
	QueueLength() int
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// StatsSource provides transport statistics. *WSDialer satisfies it.
type StatsSource interface {
	Stats() TransportStats
}

// SampleSink stores per-buffer time series samples. It is optional.
type SampleSink interface {
	WriteBufferSample(bridgeID string, b Buffer, frameRate float64)
}

// Ensure Session implements Controller.
var _ Controller = (*Session)(nil)

// Bridge connects a device session to the Gray Logic MQTT bus.
// It handles:
//   - Commands from Core, run through the action table and acknowledged
//   - Requests for the current state or variables
//   - Retained state and variables, published when they change
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id         string
	unusedText string
	device     Controller
	mqtt       MQTTClient
	samples    SampleSink
	health     *HealthReporter
	logger     Logger

	// Last published payloads for change detection
	lastState []byte
	lastVars  map[string]string
	lastMu    sync.Mutex

	stopped  atomic.Bool
	stopOnce sync.Once
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID names this bridge in topics and health messages.
	BridgeID string

	// Version is the bridge software version reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// UnusedBufferText is shown for buffers beyond the configured count.
	UnusedBufferText string

	Device     Controller
	MQTTClient MQTTClient

	// Stats is optional; health messages omit counters without it.
	Stats StatsSource

	// Samples is optional; without it no time series are written.
	Samples SampleSink

	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	b := &Bridge{
		id:         opts.BridgeID,
		unusedText: opts.UnusedBufferText,
		device:     opts.Device,
		mqtt:       opts.MQTTClient,
		samples:    opts.Samples,
		logger:     opts.Logger,
	}
	if b.unusedText == "" {
		b.unusedText = DefaultUnusedBufferText
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Device:    opts.Device,
		Stats:     opts.Stats,
	})
	b.health.SetLogger(b.logger)
	return b, nil
}

// Start subscribes to command and request topics, publishes the current
// state and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logger.Info("subscribed to requests", "topic", requestTopic)

	b.device.Subscribe(b.PublishState)
	b.PublishState(b.device.Snapshot())

	b.health.Start(ctx)
	b.logger.Info("bridge started", "bridge_id", b.id)
	return nil
}

// Stop stops health reporting and state publishing.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logger.Error("invalid topic format", "topic", topic)
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(payload)
	case "request":
		b.handleRequest(payload)
	default:
		b.logger.Error("unknown message type", "type", parts[1])
	}
}

// handleCommand runs one action and acknowledges it.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Error("failed to parse command", "error", err)
		return
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"source", cmd.Source,
	)

	if cmd.Command == "" {
		b.publishAck(NewAckError(cmd, b.id, ErrCodeInvalidCommand, "command is required"))
		return
	}

	if err := b.device.Dispatch(cmd.Command, cmd.Parameters); err != nil {
		b.logger.Warn("command failed", "command_id", cmd.ID, "command", cmd.Command, "error", err)
		b.publishAck(NewAckError(cmd, b.id, ErrorCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd, b.id, AckAccepted))
}

// handleRequest answers read_state and read_variables requests.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Error("failed to parse request", "error", err)
		return
	}
	if req.RequestID == "" {
		b.logger.Error("request without request_id", "action", req.Action)
		return
	}

	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	}
	switch req.Action {
	case RequestReadState:
		resp.Success = true
		resp.Data = b.device.Snapshot()
	case RequestReadVariables:
		resp.Success = true
		resp.Data = Variables(b.device.Snapshot(), b.unusedText)
	default:
		resp.Error = &ResponseError{
			Code:    ErrCodeInvalidCommand,
			Message: fmt.Sprintf("unknown request action: %s", req.Action),
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("failed to marshal response", "error", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), data, 1, false); err != nil {
		b.logger.Error("failed to publish response", "error", err)
	}
}

// PublishState publishes the retained state and variables when they
// differ from what was last published, and records buffer samples.
func (b *Bridge) PublishState(st DeviceState) {
	if b.stopped.Load() {
		return
	}

	key := st
	key.UpdatedAt = time.Time{}
	stateKey, err := json.Marshal(key)
	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	vars := Variables(st, b.unusedText)

	b.lastMu.Lock()
	stateChanged := string(stateKey) != string(b.lastState)
	varsChanged := !maps.Equal(vars, b.lastVars)
	if stateChanged {
		b.lastState = stateKey
	}
	if varsChanged {
		b.lastVars = vars
	}
	b.lastMu.Unlock()

	if stateChanged {
		b.publishRetained(StateTopic(b.id), NewStateMessage(b.id, st))
		b.writeSamples(st)
	}
	if varsChanged {
		b.publishRetained(VariablesTopic(b.id), VariablesMessage{
			Bridge:    b.id,
			Timestamp: time.Now().UTC(),
			Variables: vars,
		})
	}
}

func (b *Bridge) writeSamples(st DeviceState) {
	if b.samples == nil || st.Connection != StateConnected {
		return
	}
	rate := FrameRate(st)
	for i := 0; i < st.BufferCount && i < len(st.Buffers); i++ {
		b.samples.WriteBufferSample(b.id, st.Buffers[i], rate)
	}
}

func (b *Bridge) publishRetained(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logger.Error("failed to publish", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(b.id), payload, 1, false); err != nil {
		b.logger.Error("failed to publish ack", "error", err)
	}
}

// ErrorCode maps an operation error to an ack error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrSendFailed):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrRefused):
		return ErrCodePreconditionFailed
	case errors.Is(err, ErrInvalidParameter):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

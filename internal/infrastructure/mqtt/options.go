package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-dct/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // ms
	defaultKeepAlive         = 60 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Client status values on Topics.ClientStatus.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonShutdown   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// Will is a Last Will and Testament message. The broker publishes it,
// retained at QoS 1, if the client disappears without disconnecting.
type Will struct {
	Topic   string
	Payload []byte
}

// ConnectOption customises Connect.
type ConnectOption func(*connectSettings)

type connectSettings struct {
	will *Will
}

// WithWill replaces the default client status will. The DCT bridge uses
// it to leave an offline health document on its health topic.
func WithWill(topic string, payload []byte) ConnectOption {
	return func(s *connectSettings) {
		s.will = &Will{Topic: topic, Payload: payload}
	}
}

// buildClientOptions maps the mqtt config section onto paho options.
// Sessions are clean: subscriptions are replayed by the Client itself.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT installs will, or an unexpected_disconnect status for
// clientID when will is nil.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, will *Will) {
	if will == nil {
		will = &Will{
			Topic:   Topics{}.ClientStatus(clientID),
			Payload: statusPayload(clientID, statusOffline, reasonUnexpected),
		}
	}
	opts.SetBinaryWill(will.Topic, will.Payload, 1, true)
}

type clientStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusPayload renders the retained client status document.
func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(clientStatus{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

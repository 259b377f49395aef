package mqtt

import "fmt"

// Topic prefixes on the Gray Logic bus.
//
// All bridge topics use the flat scheme: graylogic/{category}/{protocol}/{address}
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	healthTopic := topics.BridgeHealth("dct")
//	// Returns: "graylogic/health/dct"
type Topics struct{}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/dct
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// ClientStatus returns the retained online/offline topic for one client.
//
// Example: graylogic/system/status/dct-bridge
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

package mqtt

import "fmt"

// Subscribe routes messages matching topic (wildcards allowed) to h. The
// subscription is remembered and replayed after reconnects; a failed
// subscribe is forgotten again.
//
//	err := client.Subscribe("graylogic/command/dct/dct-01", 1, bridge.handleCommand)
func (c *Client) Subscribe(topic string, qos byte, h MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: h}
	c.subMu.Unlock()

	if err := await(c.paho.Subscribe(topic, qos, c.wrapHandler(h)), defaultPublishTimeout, ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}
	return nil
}

// SubscriptionCount returns how many topics are being tracked.
func (c *Client) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscriptions)
}

// restoreSubscriptions replays tracked subscriptions after a reconnect.
// Failures surface through paho's reconnect cycle, so tokens are not
// awaited here.
func (c *Client) restoreSubscriptions() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for topic, sub := range c.subscriptions {
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

package mqtt

import "fmt"

// maxPayloadSize bounds outgoing messages.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker's ack.
//
//	err := client.Publish(client.Topics().State("relay_1"), body, 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

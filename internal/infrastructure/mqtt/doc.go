// Package mqtt provides the MQTT client a RoomLink node uses to mirror its
// objects onto a broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retain flags
//   - Wildcard subscriptions, restored after every reconnect
//   - Last Will and Testament on roomlink/<node>/status
//
// Topic names come from Topics; see internal/bridges/broker for what is
// published and consumed on them.
//
//	client, err := mqtt.Connect(cfg.MQTT, "kitchen")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // ...
//	        return nil
//	    })
package mqtt

// Package mqtt connects a door station to an MQTT broker.
//
// The broker carries three kinds of traffic for a station:
//   - intercom events published by the coordinator (retained for state changes)
//   - remote commands (ring, trigger, execute, ...) from home automation
//   - relay commands when the door relays hang off an external bridge
//
// A retained status message on intercom/{station}/status is set online on
// every connect and offline on Close. The broker publishes the offline
// Last Will if the process disappears.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Station.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        name, _ := client.Topics().CommandName(topic)
//	        return coord.HandleCommand(ctx, name, payload)
//	    })
//
// Subscriptions are remembered and restored after an automatic reconnect.
package mqtt

// Package mqtt connects meterpoll to an MQTT broker.
//
// The broker mirrors poller state for consumers that do not speak the
// WebSocket protocol (SCADA gateways, Node-RED flows) and carries the same
// commands the dashboard sends:
//
//	Poller → relay → broker ↔ consumers
//
// All topics live under the configured prefix; see Topics. Presence is
// signalled with a retained message on {prefix}/system/status, set to
// offline by the broker's Last Will when the poller disappears.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().State("cab1_node1"), msg, true)
package mqtt

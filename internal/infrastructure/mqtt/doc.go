// Package mqtt wraps paho.mqtt.golang for the fieldbus core.
//
// The broker is an outbound surface only: snapshots, alert events and
// control actions are relayed to it, and one inbound command topic feeds
// the maintenance gate. Nothing received over MQTT reaches a device.
//
// The client reconnects with backoff, restores subscriptions after a
// reconnect and publishes a retained status message, with a Last Will so
// subscribers see an unexpected disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.State("ahu1"), snapshot, true)
package mqtt

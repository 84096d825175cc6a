// Package mqtt connects Atag One Core to an MQTT broker.
//
// It wraps paho.mqtt.golang with auto-reconnect, subscription restore after
// reconnect, handler panic recovery and a Last Will so subscribers notice
// when the service drops off the bus.
//
// Topic layout (see Topics):
//
//	atagone/state/{device}      retained report snapshot
//	atagone/command/{device}    inbound commands
//	atagone/ack/{device}        command acknowledgements
//	atagone/endpoint/{device}   retained controller endpoint
//	atagone/health/{bridge}     retained bridge health, LWT "offline"
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.State(deviceID), payload, 1, true)
//
// TLS should be enabled (mqtt.broker.tls) whenever the broker is not on
// localhost; credentials come from ATAGONE_MQTT_USERNAME and
// ATAGONE_MQTT_PASSWORD.
package mqtt

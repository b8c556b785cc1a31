// Package mqtt wraps paho.mqtt.golang for publishing hub telemetry.
//
// The hub is a publisher only: accepted temperature reports and system
// status messages are pushed to the broker, but no topics are subscribed.
// The client manages connection state, Last Will and Testament for offline
// detection, and automatic reconnection with exponential backoff.
package mqtt

package mqtt

import "fmt"

// Topic prefixes for hub-published messages.
const (
	// TopicPrefixHub is the base for all hub topics.
	TopicPrefixHub = "graylogic/hub"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for hub MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Telemetry returns the topic for accepted temperature reports from a device.
// The device identifier is the composite "owner:device" form.
//
// Example: graylogic/hub/telemetry/alice:sensor1
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefixHub, deviceID)
}

// DevicePresence returns the topic for device connect/disconnect events.
//
// Example: graylogic/hub/presence/alice:sensor1
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefixHub, deviceID)
}

// SystemStatus returns the hub status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

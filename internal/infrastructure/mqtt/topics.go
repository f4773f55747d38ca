package mqtt

import "fmt"

// TopicPrefix is the root of every fieldcore topic.
const TopicPrefix = "fieldcore"

// Topics builds fieldcore MQTT topics.
//
//	fieldcore/state/{device}              retained latest snapshot
//	fieldcore/alert/{device}/{code}       alert state transitions
//	fieldcore/control/{device}/{param}    applied control writes
//	fieldcore/command/maintenance         inbound snapshot gate
//	fieldcore/system/status               retained online/offline (LWT)
type Topics struct{}

// State returns the retained state topic of a device.
//
// Example: fieldcore/state/ahu1
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Alert returns the topic for alert events of one device and code.
//
// Example: fieldcore/alert/ahu1/HIGH_SUPPLY
func (Topics) Alert(deviceID, code string) string {
	return fmt.Sprintf("%s/alert/%s/%s", TopicPrefix, deviceID, code)
}

// Control returns the topic for applied writes to one device parameter.
//
// Example: fieldcore/control/ahu1/fan_speed
func (Topics) Control(deviceID, param string) string {
	return fmt.Sprintf("%s/control/%s/%s", TopicPrefix, deviceID, param)
}

// Maintenance returns the inbound topic that opens and closes the
// snapshot gate.
func (Topics) Maintenance() string {
	return TopicPrefix + "/command/maintenance"
}

// SystemStatus returns the retained process status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllStates matches every device state topic.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// AllAlerts matches every alert topic.
func (Topics) AllAlerts() string {
	return TopicPrefix + "/alert/+/+"
}

// AllControls matches every control topic.
func (Topics) AllControls() string {
	return TopicPrefix + "/control/+/+"
}

// AllTopics matches everything under the prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

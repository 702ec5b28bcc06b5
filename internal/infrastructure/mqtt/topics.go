package mqtt

import "fmt"

// TopicPrefixSystem is the base for system topics. Bridge topics
// (graylogic/{category}/{protocol}/{id}) are built by each bridge package.
const TopicPrefixSystem = "graylogic/system"

// Topics provides builders for process-level MQTT topics.
type Topics struct{}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

package mqtt

import "strings"

// TopicPrefix is the root of every topic published by a lifecycle.
// Topics have the form lifecycle/{label}/{kind}.
const TopicPrefix = "lifecycle"

const (
	kindStatus = "status"
	kindHealth = "health"
)

func topic(parts ...string) string {
	return strings.Join(append([]string{TopicPrefix}, parts...), "/")
}

// StatusTopic returns the topic lifecycle state changes are published to.
func StatusTopic(label string) string {
	return topic(label, kindStatus)
}

// HealthTopic returns the topic health reports are published to.
func HealthTopic(label string) string {
	return topic(label, kindHealth)
}

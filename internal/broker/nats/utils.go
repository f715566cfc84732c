package nats

import (
	"strings"
)

// ToNATSSubject converts an MQTT topic format to NATS subject format
// MQTT uses / as separators and +/# as wildcards
// NATS uses . as separators and */> as wildcards
func ToNATSSubject(mqttTopic string) string {
	return toSubject.Replace(mqttTopic)
}

// ToMQTTTopic converts a NATS subject format to MQTT topic format
// This is the reverse of ToNATSSubject
func ToMQTTTopic(natsSubject string) string {
	return toTopic.Replace(natsSubject)
}

var (
	toSubject = strings.NewReplacer("+", "*", "#", ">", "/", ".")
	toTopic   = strings.NewReplacer("*", "+", ">", "#", ".", "/")
)

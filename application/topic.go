package application

import "strings"

const (
	topicControls  = "/controls/"
	topicMeta      = "/meta"
	topicConnected = "/connected"
	topicMetaName  = "/meta/name"
)

var topicAffixReplacer = strings.NewReplacer("+", "", "#", "")

// DeviceTopic returns the value topic of a device. Spaces and slashes in the
// title are kept as is, so titles containing "/" produce deeper topics.
func DeviceTopic(prefix, title, id string) string {
	return prefix + topicControls + topicAffix(title) + " " + topicAffix(lastIDSegment(id))
}

func topicAffix(s string) string {
	return topicAffixReplacer.Replace(s)
}

func lastIDSegment(id string) string {
	return id[strings.LastIndex(id, "_")+1:]
}

func MetaTopic(deviceTopic string) string {
	return deviceTopic + topicMeta
}

func MetaKeyTopic(deviceTopic, key string) string {
	return deviceTopic + topicMeta + "/" + key
}

func ConnectedTopic(prefix string) string {
	return prefix + topicConnected
}

func NameTopic(prefix string) string {
	return prefix + topicMetaName
}

// CommandFilter is the wildcard subscription matching every device topic
// followed by the given postfix.
func CommandFilter(prefix, postfix string) string {
	return prefix + topicControls + "+/" + postfix
}

package bus

import (
	"fmt"
	"strings"
)

// SubjectPrefix is the NATS subject namespace carrying frame data
const SubjectPrefix = "frames"

// SubjectForTopic maps a hierarchical topic name to its NATS subject.
// "/cam1/image_raw" becomes "frames.cam1.image_raw".
func SubjectForTopic(topic string) (string, error) {
	key, err := CatalogKeyForTopic(topic)
	if err != nil {
		return "", err
	}
	return SubjectPrefix + "." + key, nil
}

// CatalogKeyForTopic maps a topic name to its source-catalog key.
// The key is the subject without the namespace prefix ("cam1.image_raw"),
// which is also a valid NATS KV key.
func CatalogKeyForTopic(topic string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("empty topic")
	}
	if !strings.HasPrefix(topic, "/") {
		return "", fmt.Errorf("topic %q must be absolute", topic)
	}
	if strings.HasSuffix(topic, "/") {
		return "", fmt.Errorf("topic %q must not end with a separator", topic)
	}

	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("topic %q has an empty segment", topic)
		}
		if strings.ContainsAny(p, ".*> ") {
			return "", fmt.Errorf("topic segment %q contains reserved characters", p)
		}
	}

	return strings.Join(parts, "."), nil
}

// TopicForCatalogKey is the inverse of CatalogKeyForTopic
func TopicForCatalogKey(key string) string {
	return "/" + strings.ReplaceAll(key, ".", "/")
}

package nats

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic is returned for topics that cannot be expressed as subjects.
var ErrInvalidTopic = errors.New("nats: invalid topic")

// subjectFromTopic converts a topic name or filter to a NATS subject.
func subjectFromTopic(topic string, allowWildcards bool) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch {
		case level == "+" && allowWildcards:
			levels[i] = "*"
		case level == "#" && allowWildcards && i == len(levels)-1:
			levels[i] = ">"
		case level == "":
			return "", fmt.Errorf("%w: empty level in %q", ErrInvalidTopic, topic)
		case strings.ContainsAny(level, ".*> \t+#"):
			return "", fmt.Errorf("%w: level %q of %q", ErrInvalidTopic, level, topic)
		}
	}
	return strings.Join(levels, "."), nil
}

// topicFromSubject converts a concrete NATS subject back to a topic.
func topicFromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

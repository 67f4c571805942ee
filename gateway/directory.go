package gateway

import (
	"fmt"
	"html"
	"strings"

	"github.com/mitchellwills/web-video-server/bus"
)

// metadataSuffix pairs a metadata topic with the data topics sharing its base
const metadataSuffix = "/camera_info"

// sourceGroup is one directory entry: a metadata base plus the data topics
// claimed for it. Derived fresh per request, never stored.
type sourceGroup struct {
	base   string
	topics []string
}

// groupSources pairs metadata topics with data topics.
//
// Metadata topics not ending in the suffix are skipped. For each remaining
// metadata topic the base is its name with "camera_info" stripped, keeping
// the trailing separator. Data topics are claimed by prefix, first match
// wins: a claimed topic is removed from the working set so a later base
// cannot claim it again. Data topics no base claims are not shown.
func groupSources(sources []bus.FrameSource) []sourceGroup {
	var metadataTopics []string
	var dataTopics []string
	for _, src := range sources {
		switch src.Kind {
		case bus.KindSourceMetadata:
			if strings.HasSuffix(src.Name, metadataSuffix) {
				metadataTopics = append(metadataTopics, src.Name)
			}
		case bus.KindImageFrame:
			dataTopics = append(dataTopics, src.Name)
		}
	}

	var groups []sourceGroup
	for _, meta := range metadataTopics {
		base := strings.TrimSuffix(meta, "camera_info")

		group := sourceGroup{base: base}
		remaining := dataTopics[:0]
		for _, topic := range dataTopics {
			if strings.HasPrefix(topic, base) {
				group.topics = append(group.topics, topic)
			} else {
				remaining = append(remaining, topic)
			}
		}
		dataTopics = remaining

		groups = append(groups, group)
	}
	return groups
}

// renderDirectory builds the navigation page for the current bus state
func renderDirectory(sources []bus.FrameSource) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Image Source List</title></head><body><h1>Available Image Sources:</h1>\n<ul>\n")

	for _, group := range groupSources(sources) {
		fmt.Fprintf(&b, "<li>%s<ul>\n", html.EscapeString(group.base))
		for _, topic := range group.topics {
			label := html.EscapeString(strings.TrimPrefix(topic, group.base))
			escaped := html.EscapeString(topic)
			fmt.Fprintf(&b,
				"<li>%s: <a href=\"/stream_viewer?topic=%s\">Stream Viewer</a> (<a href=\"/snapshot?topic=%s\">Snapshot</a>)</li>\n",
				label, escaped, escaped)
		}
		b.WriteString("</ul></li>\n")
	}

	b.WriteString("</ul>\n</body></html>\n")
	return b.String()
}

package docs

import (
	"fmt"
	"strings"
)

// Topic holds a single documentation article.
type Topic struct {
	Name    string // short slug used as CLI argument
	Title   string // human-readable title
	Summary string // one-line description for topic listing
	Content string // full article text (plain text, no ANSI)
}

// All returns every topic in display order.
func All() []Topic {
	return topics
}

// Get looks up a topic by name. Returns an error with a hint if not found.
func Get(name string) (Topic, error) {
	for _, t := range topics {
		if t.Name == name {
			return t, nil
		}
	}
	return Topic{}, fmt.Errorf("unknown topic %q (run 'weave docs' to list available topics)", name)
}

// Names returns the topic names in display order.
func Names() []string {
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	return names
}

// Index renders the topic listing shown by "weave docs".
func Index() string {
	var b strings.Builder
	b.WriteString("Documentation topics:\n\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "  %-12s %s\n", t.Name, t.Summary)
	}
	b.WriteString("\nRun 'weave docs <topic>' to read one.\n")
	return b.String()
}

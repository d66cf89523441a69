// internal/gmail/types.go
package gmail

import "strings"

type (
	MessageID string
	ThreadID  string
	LabelID   string
)

// System labels maintained by Gmail itself.
const (
	LabelSent   LabelID = "SENT"
	LabelUnread LabelID = "UNREAD"
)

type Label struct {
	ID   LabelID
	Name string
}

type MessageRef struct {
	ID       MessageID
	ThreadID ThreadID
}

type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
}

type Message struct {
	ID       MessageID
	ThreadID ThreadID
	Labels   []LabelID
	Headers  map[string]string // From, Reply-To, Subject, Message-ID, Auto-Submitted, Precedence, List-Id
}

// HasLabel reports whether the message carries id.
func (m Message) HasLabel(id LabelID) bool {
	for _, l := range m.Labels {
		if l == id {
			return true
		}
	}
	return false
}

// Header returns the named header, matching the name case-insensitively as
// Gmail does not normalise header casing (Message-ID vs Message-Id).
func (m Message) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

type Thread struct {
	ID       ThreadID
	Messages []Message // oldest first
}

// Replied reports whether the mailbox owner has sent any message in the
// thread. The state is derived from the SENT label on every call.
func (t Thread) Replied() bool {
	for _, m := range t.Messages {
		if m.HasLabel(LabelSent) {
			return true
		}
	}
	return false
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `is:unread -from:me`)
}

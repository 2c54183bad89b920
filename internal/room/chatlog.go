package room

import "github.com/BioHazard786/huddle/internal/signaling"

const maxChatLog = 500

// chatLog is the ordered message log. Messages with an id already present
// are dropped.
type chatLog struct {
	entries []signaling.ChatEntry
	seen    map[string]bool
}

func (c *chatLog) append(e signaling.ChatEntry) bool {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if e.MessageID != "" {
		if c.seen[e.MessageID] {
			return false
		}
		c.seen[e.MessageID] = true
	}
	c.entries = append(c.entries, e)
	if len(c.entries) > maxChatLog {
		delete(c.seen, c.entries[0].MessageID)
		c.entries = c.entries[1:]
	}
	return true
}

// replace overwrites the log with history.
func (c *chatLog) replace(history []signaling.ChatEntry) {
	c.entries = nil
	c.seen = make(map[string]bool)
	for _, e := range history {
		c.append(e)
	}
}

func (c *chatLog) list() []signaling.ChatEntry {
	return append([]signaling.ChatEntry(nil), c.entries...)
}

package layer

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxMessages is used when a chat is created without a limit.
const DefaultMaxMessages = 50

// Message is a single chat entry.
type Message struct {
	ID     string    `json:"id,omitempty"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	Color  string    `json:"color,omitempty"`
	At     time.Time `json:"at"`
}

// NewChat creates an empty chat retaining at most maxMessages entries.
// Non-positive limits fall back to DefaultMaxMessages.
func NewChat(maxMessages int, style Style) *Chat {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Chat{MaxMessages: maxMessages, Style: style}
}

// Append adds messages in order and evicts the oldest entries beyond
// MaxMessages. Author and text are NFC-normalized so that visually equal
// messages encode and measure identically.
func (c *Chat) Append(msgs ...Message) {
	for _, m := range msgs {
		m.Author = norm.NFC.String(m.Author)
		m.Text = norm.NFC.String(m.Text)
		c.Messages = append(c.Messages, m)
	}
	c.trim()
}

// SetMaxMessages changes the retention limit, evicting oldest entries if
// the chat now exceeds it.
func (c *Chat) SetMaxMessages(n int) {
	if n <= 0 {
		n = DefaultMaxMessages
	}
	c.MaxMessages = n
	c.trim()
}

// Normalize replaces a non-positive MaxMessages with DefaultMaxMessages
// and evicts the oldest entries beyond the limit.
func (c *Chat) Normalize() {
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	c.trim()
}

// limit is the effective retention limit.
func (c *Chat) limit() int {
	if c.MaxMessages <= 0 {
		return DefaultMaxMessages
	}
	return c.MaxMessages
}

func (c *Chat) trim() {
	if over := len(c.Messages) - c.limit(); over > 0 {
		// Copy down so the evicted prefix does not pin the backing array.
		c.Messages = append(c.Messages[:0:0], c.Messages[over:]...)
	}
}

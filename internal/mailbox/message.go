package mailbox

import (
	"strings"
	"time"
)

// receivedFormat is the timestamp layout of the Received line stamped into
// every stored message.
const receivedFormat = "01/02/2006 : 15:04"

// terminator ends every stored message and every SMTP body.
const terminator = "."

// Message is one stored mail record. Lines are ordered: the first three are
// the client-supplied From/To/Subject header lines, the fourth is the
// server-stamped Received line, the rest is the body. Messages parsed from a
// mailbox written by older tooling may be shorter; accessors tolerate that.
type Message struct {
	lines []string
}

// NewMessage wraps already-rendered lines (without the terminator).
func NewMessage(lines []string) Message {
	return Message{lines: lines}
}

// Compose builds the stored record for a finalized SMTP body: the first
// three body lines (the From/To/Subject convention of this system), then the
// Received stamp, then the remaining body lines.
func Compose(bodyLines []string, now time.Time) Message {
	head := bodyLines
	if len(head) > 3 {
		head = head[:3]
	}
	lines := make([]string, 0, len(bodyLines)+1)
	lines = append(lines, head...)
	lines = append(lines, "Received: "+now.Format(receivedFormat))
	if len(bodyLines) > 3 {
		lines = append(lines, bodyLines[3:]...)
	}
	return Message{lines: lines}
}

// Lines returns the message lines without the terminator.
func (m Message) Lines() []string {
	return m.lines
}

// Text renders the message as CRLF-terminated lines, without the terminator.
func (m Message) Text() string {
	if len(m.lines) == 0 {
		return ""
	}
	return strings.Join(m.lines, "\r\n") + "\r\n"
}

// Size is the byte size of the rendered text.
func (m Message) Size() int {
	return len(m.Text())
}

// Render returns the on-disk form: the text followed by the terminator line.
func (m Message) Render() string {
	return m.Text() + terminator + "\r\n"
}

func (m Message) From() string     { return m.headerValue(0, "From:") }
func (m Message) To() string       { return m.headerValue(1, "To:") }
func (m Message) Subject() string  { return m.headerValue(2, "Subject:") }
func (m Message) Received() string { return m.headerValue(3, "Received:") }

func (m Message) headerValue(index int, prefix string) string {
	if index >= len(m.lines) {
		return ""
	}
	line := m.lines[index]
	if rest, ok := strings.CutPrefix(line, prefix); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// parseMessages splits mailbox content into messages on terminator lines.
// Lines are separated by LF with an optional preceding CR, so mailboxes
// written with either convention parse the same way. A trailing fragment
// with no terminator is the product of a torn append and is dropped rather
// than served as a half message.
func parseMessages(content string) []Message {
	var messages []Message
	var current []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSuffix(raw, "\r")
		if line == terminator {
			messages = append(messages, Message{lines: current})
			current = nil
			continue
		}
		current = append(current, line)
	}
	// Split always yields a final element after the last newline; anything
	// left over here is either that empty remainder or an unterminated
	// fragment. Both are discarded.
	return messages
}

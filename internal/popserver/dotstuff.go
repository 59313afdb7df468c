package popserver

import "strings"

// dotStuff byte-stuffs message text for a multiline POP3 reply: every line
// that begins with a dot gets one more dot, so a body line consisting of a
// single "." cannot end the reply early.
func dotStuff(text string) string {
	if text == "" {
		return text
	}
	stuffed := strings.ReplaceAll(text, "\r\n.", "\r\n..")
	if strings.HasPrefix(stuffed, ".") {
		stuffed = "." + stuffed
	}
	return stuffed
}

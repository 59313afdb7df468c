package smtpserver

import (
	"errors"
	"strings"
)

var errInvalidAddress = errors.New("invalid address")

// extractAddress pulls the mailbox address out of a MAIL FROM / RCPT TO
// argument. The address must sit inside angle brackets. A source-routing
// prefix (a:b:c@host) is stripped down to the final mailbox segment.
// Empty bracket contents are the null sender and only allowed when
// allowEmpty is set; any non-empty address must be @-qualified.
func extractAddress(arg string, allowEmpty bool) (string, error) {
	start := strings.IndexByte(arg, '<')
	end := strings.IndexByte(arg, '>')
	if start == -1 || end == -1 || start > end {
		return "", errInvalidAddress
	}
	address := arg[start+1 : end]

	if i := strings.LastIndexByte(address, ':'); i >= 0 {
		address = address[i+1:]
	}

	if address == "" {
		if allowEmpty {
			return "", nil
		}
		return "", errInvalidAddress
	}
	if !strings.Contains(address, "@") {
		return "", errInvalidAddress
	}
	return address, nil
}

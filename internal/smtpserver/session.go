package smtpserver

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.io/infrasutra/flatmail/internal/mailbox"
	"github.io/infrasutra/flatmail/internal/metrics"
)

type sessionState int

const (
	stateInit sessionState = iota
	stateHelo
	stateMailFrom
	stateRcptTo
	stateData
)

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	state      sessionState
	sender     string
	recipients []string
	body       []string
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		logger: s.logger.With("session", sessionID(), "remote", conn.RemoteAddr().String()),
	}
}

// resetEnvelope clears the pending message and returns to the initial state.
func (s *session) resetEnvelope() {
	s.state = stateInit
	s.sender = ""
	s.recipients = nil
	s.body = nil
}

func (s *session) handle() {
	defer s.conn.Close()

	s.logger.Info("connected")
	s.reply(220, "%s flatmail SMTP ready", s.server.domain)

	for {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.logger.Info("client dropped connection")
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("idle timeout")
			} else {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if s.state == stateData {
			s.handleBodyLine(line)
			continue
		}
		if !s.handleCommand(strings.TrimSpace(line)) {
			return
		}
	}
}

type handlerFunc func(s *session, line string)

// transitions is the (state, command) dispatch table. HELO and QUIT are
// valid in every state and handled before the lookup; any pair missing here
// is an illegal sequence and gets a single rejection path.
var transitions = map[sessionState]map[string]handlerFunc{
	stateInit: {},
	stateHelo: {
		"MAIL": (*session).cmdMailFrom,
	},
	stateMailFrom: {
		"RCPT": (*session).cmdRcptTo,
	},
	stateRcptTo: {
		"RCPT": (*session).cmdRcptTo,
		"DATA": (*session).cmdData,
	},
}

// sequenceHints names the command each verb requires first, for the
// rejection text of an out-of-order but recognized verb.
var sequenceHints = map[string]string{
	"MAIL": "send HELO first",
	"RCPT": "send MAIL FROM first",
	"DATA": "send RCPT TO first",
}

// handleCommand processes one command line. It returns false when the
// connection should be torn down.
func (s *session) handleCommand(line string) bool {
	verb := strings.ToUpper(firstWord(line))

	switch verb {
	case "QUIT":
		s.reply(221, "%s closing connection", s.server.domain)
		s.logger.Info("quit")
		return false
	case "HELO":
		s.cmdHelo(line)
		return true
	}

	if handler, ok := transitions[s.state][verb]; ok {
		handler(s, line)
		return true
	}
	if s.state == stateInit {
		s.reply(500, "Error: send HELO first")
		return true
	}
	if hint, ok := sequenceHints[verb]; ok {
		s.reply(500, "Error: %s", hint)
		return true
	}
	s.reply(500, "Error: Invalid command sequence")
	return true
}

// cmdHelo restarts the dialogue: the envelope is cleared even when a
// transaction is in progress.
func (s *session) cmdHelo(line string) {
	s.resetEnvelope()
	if len(strings.Fields(line)) != 2 {
		s.reply(501, "Syntax: HELO hostname")
		return
	}
	s.reply(250, "OK Hello %s", s.server.domain)
	s.state = stateHelo
}

func (s *session) cmdMailFrom(line string) {
	arg, ok := cutVerbArg(line, "MAIL FROM:")
	if !ok {
		s.reply(501, "Syntax: MAIL FROM:<address>")
		return
	}
	sender, err := extractAddress(arg, true)
	if err != nil {
		s.reply(501, "Error: Invalid address")
		return
	}
	s.sender = sender
	s.reply(250, "OK")
	s.state = stateMailFrom
}

func (s *session) cmdRcptTo(line string) {
	arg, ok := cutVerbArg(line, "RCPT TO:")
	if !ok {
		s.reply(501, "Syntax: RCPT TO:<address>")
		return
	}
	recipient, err := extractAddress(arg, false)
	if err != nil {
		s.reply(501, "Error: Invalid address")
		return
	}
	local, domain, _ := strings.Cut(recipient, "@")
	known, err := s.server.users.Exists(local)
	if err != nil {
		s.logger.Error("user lookup failed", "error", err)
		s.reply(451, "Error: local error in processing")
		return
	}
	if domain != s.server.domain || !known {
		s.reply(550, "5.1.1 User unknown")
		return
	}
	s.recipients = append(s.recipients, recipient)
	s.reply(250, "OK")
	s.state = stateRcptTo
}

func (s *session) cmdData(line string) {
	if strings.ToUpper(strings.TrimSpace(line)) != "DATA" {
		s.reply(501, "Syntax: DATA")
		return
	}
	s.body = nil
	s.reply(354, "End data with <CR><LF>.<CR><LF>")
	s.state = stateData
}

// handleBodyLine collects body lines until the terminator finalizes the
// message. Lines are stored verbatim.
func (s *session) handleBodyLine(line string) {
	if line != "." {
		s.body = append(s.body, line)
		return
	}
	s.finalize()
}

// finalize stamps the pending message and delivers one copy to each
// recipient's mailbox. Deliveries run concurrently and independently: a
// failure for one recipient never blocks or fails the others.
func (s *session) finalize() {
	msg := mailbox.Compose(s.body, s.server.now())

	var wg sync.WaitGroup
	var delivered atomic.Int64
	for _, recipient := range s.recipients {
		username, _, _ := strings.Cut(recipient, "@")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.server.boxes.Append(username, msg); err != nil {
				metrics.DeliveryErrors.Inc()
				s.logger.Error("delivery failed", "recipient", username, "error", err)
				return
			}
			metrics.MessagesDelivered.Inc()
			delivered.Add(1)
		}()
	}
	wg.Wait()

	s.logger.Info("message accepted",
		"from", s.sender,
		"recipients", len(s.recipients),
		"delivered", delivered.Load(),
		"lines", len(s.body),
	)

	if delivered.Load() == 0 && len(s.recipients) > 0 {
		s.reply(451, "Error: local error in processing")
	} else {
		s.reply(250, "Mail accepted for delivery")
	}
	s.resetEnvelope()
	s.state = stateHelo
}

func (s *session) reply(code int, format string, args ...any) {
	fmt.Fprintf(s.writer, "%d %s\r\n", code, fmt.Sprintf(format, args...))
	if err := s.writer.Flush(); err != nil {
		s.logger.Warn("write failed", "error", err)
	}
}

func firstWord(line string) string {
	word, _, _ := strings.Cut(line, " ")
	return word
}

// cutVerbArg strips a case-insensitive "VERB X:" prefix and returns the rest.
func cutVerbArg(line, prefix string) (string, bool) {
	if len(line) < len(prefix) {
		return "", false
	}
	if !strings.EqualFold(line[:len(prefix)], prefix) {
		return "", false
	}
	return line[len(prefix):], true
}

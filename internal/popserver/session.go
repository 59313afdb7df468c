package popserver

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/flatmail/internal/metrics"
)

type sessionState int

const (
	// stateNoUser: connected, no username claimed yet.
	stateNoUser sessionState = iota
	// stateUserGiven: username claimed, awaiting PASS.
	stateUserGiven
	// stateTransaction: authenticated, mailbox commands accepted.
	stateTransaction
)

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	state    sessionState
	username string
	// deleted holds session-local tombstones keyed by 1-based ordinal.
	// They touch the file only when QUIT commits them.
	deleted map[int]bool
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		server:  s,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		logger:  s.logger.With("session", sessionID(), "remote", conn.RemoteAddr().String()),
		deleted: make(map[int]bool),
	}
}

func (s *session) handle() {
	defer s.conn.Close()

	s.logger.Info("connected")
	s.ok("flatmail POP3 server ready")

	for {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		line, err := s.reader.ReadString('\n')
		if err != nil {
			// An abrupt disconnect commits nothing: tombstones are
			// discarded with the session.
			if err == io.EOF {
				s.logger.Info("client dropped connection")
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("idle timeout")
			} else {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}
		verb, arg := parseCommand(line)
		if !s.dispatch(verb, arg) {
			return
		}
	}
}

// parseCommand splits a line into an upper-cased verb and the rest of the
// line. The argument keeps interior spaces so PASS accepts passwords
// containing them.
func parseCommand(line string) (string, string) {
	line = strings.TrimRight(line, "\r\n")
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg)
}

type handlerFunc func(s *session, arg string)

// transactionCmds are valid only in the transaction state. A recognized
// verb issued before authentication gets the single uniform rejection.
var transactionCmds = map[string]handlerFunc{
	"STAT": (*session).cmdStat,
	"LIST": (*session).cmdList,
	"RETR": (*session).cmdRetr,
	"DELE": (*session).cmdDele,
	"RSET": (*session).cmdRset,
	"NOOP": (*session).cmdNoop,
}

// dispatch routes one command. It returns false when the connection should
// be torn down.
func (s *session) dispatch(verb, arg string) bool {
	switch verb {
	case "QUIT":
		s.cmdQuit()
		return false
	case "USER":
		s.cmdUser(arg)
		return true
	case "PASS":
		s.cmdPass(arg)
		return true
	}
	handler, ok := transactionCmds[verb]
	if !ok {
		s.err("unsupported command")
		return true
	}
	if s.state != stateTransaction {
		s.err("authenticate first")
		return true
	}
	handler(s, arg)
	return true
}

func (s *session) cmdUser(arg string) {
	if s.state == stateTransaction {
		s.err("already authenticated")
		return
	}
	if arg == "" || strings.ContainsAny(arg, " \t") {
		s.err("USER <username> expected")
		return
	}
	// Existence is not checked here; an unknown username only fails at
	// PASS, indistinguishably from a wrong password.
	s.username = arg
	s.state = stateUserGiven
	s.ok("send your password")
}

func (s *session) cmdPass(arg string) {
	if s.state == stateTransaction {
		s.err("already authenticated")
		return
	}
	if s.state != stateUserGiven {
		s.err("USER expected first")
		return
	}
	if arg == "" {
		s.err("PASS <password> expected")
		return
	}
	stored, found, err := s.server.users.LookupPassword(s.username)
	if err != nil {
		s.logger.Error("password lookup failed", "error", err)
		s.err("internal server error")
		return
	}
	if !found || stored != arg {
		metrics.AuthenticationAttempts.WithLabelValues("failure").Inc()
		s.logger.Info("authentication failed", "user", s.username)
		// One generic reply for both unknown user and wrong password.
		// The claimed username stays; the client may retry PASS or
		// start over with USER.
		s.err("username or password incorrect")
		return
	}
	metrics.AuthenticationAttempts.WithLabelValues("success").Inc()
	s.state = stateTransaction
	s.logger.Info("authenticated", "user", s.username)
	s.ok("logged in")
}

func (s *session) cmdStat(arg string) {
	if arg != "" {
		s.err("STAT takes no arguments")
		return
	}
	count, size, err := s.server.boxes.Stat(s.username, s.deleted)
	if err != nil {
		s.logger.Error("stat failed", "error", err)
		s.err("internal server error")
		return
	}
	s.ok("%d %d", count, size)
}

func (s *session) cmdList(arg string) {
	messages, err := s.server.boxes.ReadAll(s.username)
	if err != nil {
		s.logger.Error("list failed", "error", err)
		s.err("internal server error")
		return
	}

	if arg == "" {
		count, total := 0, 0
		for i, msg := range messages {
			if s.deleted[i+1] {
				continue
			}
			count++
			total += msg.Size()
		}
		s.ok("%d messages (%d octets)", count, total)
		for i, msg := range messages {
			if s.deleted[i+1] {
				continue
			}
			fmt.Fprintf(s.writer, "%d %d\r\n", i+1, msg.Size())
		}
		s.endMultiline()
		return
	}

	n, ok := s.ordinalArg(arg)
	if !ok {
		return
	}
	if n > len(messages) {
		s.err("no such message")
		return
	}
	if s.deleted[n] {
		s.err("message deleted")
		return
	}
	s.ok("%d %d", n, messages[n-1].Size())
}

func (s *session) cmdRetr(arg string) {
	n, ok := s.ordinalArg(arg)
	if !ok {
		return
	}
	if s.deleted[n] {
		s.err("message marked deleted")
		return
	}
	messages, err := s.server.boxes.ReadAll(s.username)
	if err != nil {
		s.logger.Error("retr failed", "error", err)
		s.err("internal server error")
		return
	}
	if n > len(messages) {
		s.err("no such message")
		return
	}
	msg := messages[n-1]
	s.ok("%d octets", msg.Size())
	s.writer.WriteString(dotStuff(msg.Text()))
	s.endMultiline()
	s.logger.Info("retrieved message", "ordinal", n, "size", msg.Size())
}

func (s *session) cmdDele(arg string) {
	n, ok := s.ordinalArg(arg)
	if !ok {
		return
	}
	count, _, err := s.server.boxes.Stat(s.username, nil)
	if err != nil {
		s.logger.Error("dele failed", "error", err)
		s.err("internal server error")
		return
	}
	if n > count {
		s.err("no such message")
		return
	}
	if s.deleted[n] {
		s.err("message already deleted")
		return
	}
	s.deleted[n] = true
	s.logger.Info("marked message for deletion", "ordinal", n)
	s.ok("message %d deleted", n)
}

func (s *session) cmdRset(arg string) {
	if arg != "" {
		s.err("RSET takes no arguments")
		return
	}
	s.deleted = make(map[int]bool)
	count, _, err := s.server.boxes.Stat(s.username, nil)
	if err != nil {
		s.logger.Error("rset failed", "error", err)
		s.err("internal server error")
		return
	}
	s.ok("mailbox contains %d messages", count)
}

func (s *session) cmdNoop(string) {
	s.ok("")
}

// cmdQuit enters the update state: tombstones are committed to disk, then
// the connection closes. An unauthenticated QUIT just says goodbye.
func (s *session) cmdQuit() {
	if s.state != stateTransaction {
		s.ok("flatmail POP3 server signing off")
		return
	}
	if err := s.server.boxes.CommitDeletions(s.username, s.deleted); err != nil {
		s.logger.Error("commit failed", "error", err)
		s.err("some deleted messages were not removed")
		return
	}
	if len(s.deleted) > 0 {
		metrics.MessagesExpunged.Add(float64(len(s.deleted)))
		s.logger.Info("expunged messages", "count", len(s.deleted))
	}
	s.ok("flatmail POP3 server signing off")
}

// ordinalArg parses a single numeric 1-based message-number argument,
// replying on each distinct failure.
func (s *session) ordinalArg(arg string) (int, bool) {
	if arg == "" || strings.ContainsAny(arg, " \t") {
		s.err("one message number expected")
		return 0, false
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		s.err("message number must be a positive number")
		return 0, false
	}
	return n, true
}

func (s *session) ok(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if text == "" {
		s.writer.WriteString("+OK\r\n")
	} else {
		fmt.Fprintf(s.writer, "+OK %s\r\n", text)
	}
	s.flush()
}

func (s *session) err(format string, args ...any) {
	fmt.Fprintf(s.writer, "-ERR %s\r\n", fmt.Sprintf(format, args...))
	s.flush()
}

// endMultiline terminates a multiline reply and flushes it.
func (s *session) endMultiline() {
	s.writer.WriteString(".\r\n")
	s.flush()
}

func (s *session) flush() {
	if err := s.writer.Flush(); err != nil {
		s.logger.Warn("write failed", "error", err)
	}
}

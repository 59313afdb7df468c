// Package popserver implements the mailbox retrieval listener: a
// line-oriented POP3 dialogue over TCP with USER/PASS authentication against
// the user listing and session-local deletion tombstones committed at QUIT.
package popserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/flatmail/internal/mailbox"
	"github.io/infrasutra/flatmail/internal/metrics"
	"github.io/infrasutra/flatmail/internal/userdb"
)

const idleTimeout = 5 * time.Minute

type Server struct {
	addr   string
	users  *userdb.Store
	boxes  *mailbox.Store
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func New(users *userdb.Store, boxes *mailbox.Store, logger *slog.Logger, addr string) *Server {
	return &Server{
		addr:   addr,
		users:  users,
		boxes:  boxes,
		logger: logger,
	}
}

// Listen binds the server's TCP port without accepting connections yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen pop3: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Close, one goroutine per session.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("pop3 server not listening")
	}
	s.logger.Info("pop3 server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept pop3: %w", err)
		}

		metrics.ConnectionsTotal.WithLabelValues("pop3").Inc()
		metrics.ConnectionsCurrent.WithLabelValues("pop3").Inc()

		sess := newSession(s, conn)
		go func() {
			defer metrics.ConnectionsCurrent.WithLabelValues("pop3").Dec()
			sess.handle()
		}()
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func sessionID() string {
	return uuid.NewString()[:8]
}

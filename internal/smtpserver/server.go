// Package smtpserver implements the mail transport listener: a line-oriented
// SMTP dialogue over TCP that validates recipients against the user listing
// and delivers finalized messages into per-recipient mailboxes.
package smtpserver

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
	domain string
	users  *userdb.Store
	boxes  *mailbox.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

func New(users *userdb.Store, boxes *mailbox.Store, logger *slog.Logger, addr, domain string) *Server {
	return &Server{
		addr:   addr,
		domain: domain,
		users:  users,
		boxes:  boxes,
		logger: logger,
		now:    time.Now,
	}
}

// Listen binds the server's TCP port without accepting connections yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen smtp: %w", err)
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
		return errors.New("smtp server not listening")
	}
	s.logger.Info("smtp server listening", "addr", ln.Addr().String(), "domain", s.domain)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept smtp: %w", err)
		}

		metrics.ConnectionsTotal.WithLabelValues("smtp").Inc()
		metrics.ConnectionsCurrent.WithLabelValues("smtp").Inc()

		sess := newSession(s, conn)
		go func() {
			defer metrics.ConnectionsCurrent.WithLabelValues("smtp").Dec()
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

package smtpserver

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/flatmail/internal/mailbox"
)

func composeTest(subject string) mailbox.Message {
	return mailbox.Compose([]string{
		"From: alice@remote.test",
		"To: bob@example.test",
		"Subject: " + subject,
		"body",
	}, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
}

// TestGoSMTPClientDelivery drives the server with a stock SMTP client
// library instead of hand-written dialogue.
func TestGoSMTPClientDelivery(t *testing.T) {
	srv, boxes := startTestServer(t)

	c, err := smtp.Dial(srv.Addr())
	require.NoError(t, err)
	defer c.Close()

	// The client probes with EHLO first; the server rejects it with a 500
	// and the client falls back to HELO.
	require.NoError(t, c.Hello("client.test"))
	require.NoError(t, c.Mail("alice@remote.test", nil))
	require.NoError(t, c.Rcpt("bob@example.test", nil))

	w, err := c.Data()
	require.NoError(t, err)
	_, err = io.WriteString(w, "From: alice@remote.test\r\nTo: bob@example.test\r\nSubject: via library\r\nbody text\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	messages, err := boxes.ReadAll("bob")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "via library", messages[0].Subject())
	require.NotEmpty(t, messages[0].Received())
}

func TestGoSMTPClientUnknownRecipient(t *testing.T) {
	srv, _ := startTestServer(t)

	c, err := smtp.Dial(srv.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("client.test"))
	require.NoError(t, c.Mail("alice@remote.test", nil))

	err = c.Rcpt("mallory@example.test", nil)
	require.Error(t, err)
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	require.Equal(t, 550, smtpErr.Code)
}

// TestConcurrentSessionsSameRecipient delivers from independent connections
// into one mailbox and checks that every message survives with intact
// boundaries.
func TestConcurrentSessionsSameRecipient(t *testing.T) {
	srv, boxes := startTestServer(t)

	require.NoError(t, boxes.Append("bob", composeTest("existing")))

	const senders = 2
	var wg sync.WaitGroup
	errs := make([]error, senders)
	for i := 0; i < senders; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = deliverOnce(srv.Addr(), fmt.Sprintf("concurrent-%d", i))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "sender %d", i)
	}

	messages, err := boxes.ReadAll("bob")
	require.NoError(t, err)
	require.Len(t, messages, senders+1)
	for _, msg := range messages {
		require.Equal(t, "bob@example.test", msg.To())
		require.NotEmpty(t, msg.Subject())
	}
}

func deliverOnce(addr, subject string) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Hello("client.test"); err != nil {
		return err
	}
	if err := c.Mail("alice@remote.test", nil); err != nil {
		return err
	}
	if err := c.Rcpt("bob@example.test", nil); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	body := fmt.Sprintf("From: alice@remote.test\r\nTo: bob@example.test\r\nSubject: %s\r\nbody\r\n", subject)
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

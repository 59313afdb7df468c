package popserver

import (
	"net"
	"strconv"
	"testing"

	"github.com/knadh/go-pop3"
	"github.com/stretchr/testify/require"
)

func dialPOP3Client(t *testing.T, srv *Server) *pop3.Conn {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := pop3.New(pop3.Opt{Host: host, Port: port})
	conn, err := client.NewConn()
	require.NoError(t, err)
	return conn
}

// TestGoPOP3ClientFlow drives the server with a stock POP3 client library
// instead of hand-written dialogue.
func TestGoPOP3ClientFlow(t *testing.T) {
	srv, boxes := startTestServer(t)
	conn := dialPOP3Client(t, srv)

	require.NoError(t, conn.Auth("bob", "hunter2"))

	count, size, err := conn.Stat()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Greater(t, size, 0)

	listing, err := conn.List(0)
	require.NoError(t, err)
	require.Len(t, listing, count)

	raw, err := conn.RetrRaw(1)
	require.NoError(t, err)
	require.Contains(t, raw.String(), "Subject: msg-1")
	require.Contains(t, raw.String(), "body text")

	require.NoError(t, conn.Dele(3))
	require.NoError(t, conn.Quit())

	messages, err := boxes.ReadAll("bob")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "msg-1", messages[0].Subject())
	require.Equal(t, "msg-2", messages[1].Subject())
}

func TestGoPOP3ClientBadCredentials(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialPOP3Client(t, srv)
	defer conn.Quit()

	require.Error(t, conn.Auth("bob", "wrong"))
}

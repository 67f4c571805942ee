package transport

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair returns a connection wrapping one end of an in-memory pipe and a
// reader consuming the other end.
func pipePair(t *testing.T) (*Connection, *bufio.Reader, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return NewConnection(server), bufio.NewReader(client), client
}

func TestConnection_WriteResponse(t *testing.T) {
	conn, reader, _ := pipePair(t)

	done := make(chan error, 1)
	go func() {
		done <- conn.WriteResponse(http.StatusOK, map[string]string{
			"Content-Type": "text/html",
			"Server":       ServerName,
		})
	}()

	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", statusLine)

	var headers []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		headers = append(headers, strings.TrimRight(line, "\r\n"))
	}

	require.NoError(t, <-done)
	assert.Contains(t, headers, "Content-Type: text/html")
	assert.Contains(t, headers, "Server: "+ServerName)
}

func TestConnection_WriteAfterClose(t *testing.T) {
	conn, _, _ := pipePair(t)

	require.NoError(t, conn.Close())
	assert.True(t, conn.Closed())

	assert.Error(t, conn.Write([]byte("data")))
	assert.Error(t, conn.WriteString("data"))
	assert.Error(t, conn.WriteResponse(http.StatusOK, nil))
}

func TestConnection_WriteFailureLatchesClosed(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConnection(server)

	// Peer goes away; the next flushed write must fail and latch Closed.
	require.NoError(t, client.Close())

	var failed bool
	for i := 0; i < 10 && !failed; i++ {
		failed = conn.Write([]byte("frame")) != nil
	}

	assert.True(t, failed, "write to a closed peer should fail")
	assert.True(t, conn.Closed())
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn, _, _ := pipePair(t)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	conn, reader, _ := pipePair(t)

	// Drain everything the writers produce
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := reader.Read(buf); err != nil {
				close(drained)
				return
			}
		}
	}()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				_ = conn.WriteString("chunk")
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent writes deadlocked")
		}
	}

	require.NoError(t, conn.Close())
	<-drained
}

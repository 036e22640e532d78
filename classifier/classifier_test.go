package classifier

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pop3 "github.com/kiwiz/pop3parse"
)

func pipeWriter(t *testing.T, server net.Conn, data string) {
	t.Helper()
	go func() {
		_, _ = server.Write([]byte(data))
	}()
}

func TestSniffer_Classify_Recognized(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pipeWriter(t, server, "+OK POP3 ready\r\n")

	s := NewSniffer(Config{Direction: pop3.DirectionUnknown})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, buf, err := s.Classify(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, pop3.Recognized, status)
	assert.Equal(t, "+OK POP3 ready\r\n", string(buf))
}

func TestSniffer_Classify_Unrecognized(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pipeWriter(t, server, "NOT POP3 AT ALL\r\n")

	s := NewSniffer(Config{Direction: pop3.DirectionUnknown})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, _, err := s.Classify(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, pop3.Unrecognized, status)
}

func TestSniffer_Classify_IncompleteThenRecognized(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.Write([]byte("USE"))
		time.Sleep(20 * time.Millisecond)
		_, _ = server.Write([]byte("R bob\r\n"))
	}()

	s := NewSniffer(Config{Direction: pop3.DirectionUnknown})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, buf, err := s.Classify(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, pop3.Recognized, status)
	assert.Equal(t, "USER bob\r\n", string(buf))
}

func TestSniffer_Classify_OctetCeiling(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// A line that never terminates stays Incomplete forever; the
		// ceiling must kick in rather than block indefinitely.
		_, _ = server.Write(bytes.Repeat([]byte("A"), 64))
	}()

	s := NewSniffer(Config{Direction: pop3.DirectionUnknown, MaxBufferedOctets: 32})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, buf, err := s.Classify(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, pop3.Unrecognized, status)
	assert.GreaterOrEqual(t, len(buf), 32)
}

func TestSniffer_Classify_FlagsOnLongCommand(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// A syntactically valid USER command whose argument blows the
	// RFC 2449 length ceiling: parses, but Unrecognized via flags.
	arg := make([]byte, 260)
	for i := range arg {
		arg[i] = 'a'
	}
	line := "USER " + string(arg) + "\r\n"
	pipeWriter(t, server, line)

	s := NewSniffer(Config{Direction: pop3.DirectionUnknown, MaxBufferedOctets: 2048})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status, _, err := s.Classify(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, pop3.Unrecognized, status)
}

func TestSniffer_Classify_CancelWithoutDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Nothing is ever written, so the connection sits Incomplete
	// forever. A context.WithCancel carries no deadline at all; only
	// explicit cancellation should be able to unblock Classify.
	s := NewSniffer(Config{Direction: pop3.DirectionUnknown})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var status pop3.ProbeStatus
	var err error
	go func() {
		status, _, err = s.Classify(ctx, client)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
		assert.Equal(t, pop3.Incomplete, status)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Classify did not return after context cancellation without a deadline")
	}
}

func TestConfig_Defaults(t *testing.T) {
	var c Config
	assert.Equal(t, DefaultMaxBufferedOctets, c.maxBufferedOctets())
	assert.NotNil(t, c.logger())
}

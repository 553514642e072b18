package smtp

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

// pipeConn returns a client conn whose peer writes data and then hangs up.
func pipeConn(t *testing.T, data string) *conn {
	t.Helper()

	client, server := net.Pipe()
	go func() {
		if data != "" {
			server.Write([]byte(data))
		}
		server.Close()
	}()
	t.Cleanup(func() { client.Close() })

	return newConn(client, time.Second, slog.Default(), true)
}

func TestReadLine(t *testing.T) {
	c := pipeConn(t, "220 ready\r\n250 bare newline\n")

	line, err := c.readLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	if line != "220 ready" {
		t.Errorf("Expected '220 ready', got '%s'", line)
	}

	line, err = c.readLine(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to read line: %v", err)
	}
	if line != "250 bare newline" {
		t.Errorf("Expected '250 bare newline', got '%s'", line)
	}
}

func TestReadLineWithoutTerminator(t *testing.T) {
	c := pipeConn(t, "220 ready")

	_, err := c.readLine(time.Now().Add(time.Second))

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("Expected ProtocolError, got %v", err)
	}
}

func TestReadLinePrematureClose(t *testing.T) {
	c := pipeConn(t, "")

	_, err := c.readLine(time.Now().Add(time.Second))

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestReadLineTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := newConn(client, time.Second, slog.Default(), false)

	_, err := c.readLine(time.Now().Add(50 * time.Millisecond))

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Errorf("Expected TimeoutError, got %v", err)
	}
}

func TestReadLineTooLong(t *testing.T) {
	c := pipeConn(t, strings.Repeat("a", maxLineLength+10)+"\r\n")

	_, err := c.readLine(time.Now().Add(time.Second))

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("Expected ProtocolError, got %v", err)
	}
}

func TestWriteLineOnClosedConn(t *testing.T) {
	c := pipeConn(t, "")
	if err := c.close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	err := c.writeLine("NOOP")

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected ConnectionError, got %v", err)
	}

	if err := c.close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
}

func TestWriteData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := newConn(client, time.Second, slog.Default(), true)

	received := make(chan string, 1)
	go func() {
		r := bufio.NewReader(server)
		var sb strings.Builder
		for i := 0; i < 3; i++ {
			line, err := r.ReadString('\n')
			if err != nil {
				break
			}
			sb.WriteString(line)
		}
		received <- sb.String()
	}()

	if err := c.writeData([]string{"Subject: x", ".leading dot", "."}); err != nil {
		t.Fatalf("Failed to write data: %v", err)
	}

	expected := "Subject: x\r\n..leading dot\r\n..\r\n"
	if got := <-received; got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}

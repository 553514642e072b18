package smtp

import (
	"errors"
	"testing"
	"time"
)

func TestReadReplyMultiline(t *testing.T) {
	c := pipeConn(t, "250-Hello\r\n250-ONE\r\n250 DONE\r\n")

	reply, err := c.readReply(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}

	if reply.Code != 250 {
		t.Errorf("Expected code 250, got %d", reply.Code)
	}
	if !reply.Final {
		t.Error("Expected reply to be final")
	}
	if reply.Text() != "Hello\nONE\nDONE" {
		t.Errorf("Expected 'Hello\\nONE\\nDONE', got '%s'", reply.Text())
	}
}

func TestReadReplySingleLine(t *testing.T) {
	c := pipeConn(t, "220 foo.com SMTP service ready\r\n")

	reply, err := c.readReply(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}

	if reply.Code != 220 || reply.Text() != "foo.com SMTP service ready" {
		t.Errorf("Unexpected reply: %d %s", reply.Code, reply.Text())
	}
}

func TestReadReplyErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"code mismatch", "250-A\r\n251-B\r\n", "code mismatch in continuation"},
		{"short line", "25\r\n", "reply line too short"},
		{"code only", "250\r\n", "reply line too short"},
		{"non-digit code", "2x0 OK\r\n", "reply code is not 3 digits"},
		{"empty stream", "", "empty response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := pipeConn(t, tt.data)

			_, err := c.readReply(time.Now().Add(time.Second))

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("Expected ProtocolError, got %v", err)
			}
			if protoErr.Msg != tt.msg {
				t.Errorf("Expected '%s', got '%s'", tt.msg, protoErr.Msg)
			}
		})
	}
}

func TestReadReplyClosedMidReply(t *testing.T) {
	c := pipeConn(t, "250-Hello\r\n")

	_, err := c.readReply(time.Now().Add(time.Second))

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
}

func TestParseExtensions(t *testing.T) {
	reply := &Reply{Code: 250, Lines: []string{"foo.com greets client", "STARTTLS", "auth LOGIN PLAIN"}, Final: true}

	ext := parseExtensions(reply)

	if _, ok := ext["STARTTLS"]; !ok {
		t.Error("Expected STARTTLS extension")
	}
	if ext["AUTH"] != "LOGIN PLAIN" {
		t.Errorf("Expected AUTH params 'LOGIN PLAIN', got '%s'", ext["AUTH"])
	}
}

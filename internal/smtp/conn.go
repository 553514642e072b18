package smtp

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

const maxLineLength = 4096

// conn is the line reader/writer of a session. It is owned by exactly one
// session and never shared.
type conn struct {
	netConn net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	logger  *slog.Logger
	debug   bool
	closed  bool
}

func newConn(nc net.Conn, timeout time.Duration, logger *slog.Logger, debug bool) *conn {
	return &conn{
		netConn: nc,
		r:       bufio.NewReader(nc),
		w:       bufio.NewWriter(nc),
		timeout: timeout,
		logger:  logger,
		debug:   debug,
	}
}

func (c *conn) writeLine(line string) error {
	c.trace("C: " + line)
	return c.send(line)
}

// writeSecret writes a line that must not show up in the protocol trace.
func (c *conn) writeSecret(line string) error {
	c.trace("C: <redacted>")
	return c.send(line)
}

// writeData writes the message payload dot-stuffed, flushing once at the end.
// The terminating "." is sent separately as a command.
func (c *conn) writeData(lines []string) error {
	stuffed := make([]string, len(lines))
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		stuffed[i] = line
		c.trace("C: " + line)
	}
	return c.send(stuffed...)
}

func (c *conn) send(lines ...string) error {
	if c.closed {
		return &ConnectionError{Op: "write", Err: net.ErrClosed}
	}

	if err := c.netConn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}

	for _, line := range lines {
		if _, err := c.w.WriteString(line + "\r\n"); err != nil {
			return classify("write", err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return classify("write", err)
	}

	return nil
}

// readLine blocks until one terminated line is available or the deadline
// passes. The terminator is stripped.
func (c *conn) readLine(deadline time.Time) (string, error) {
	if c.closed {
		return "", &ConnectionError{Op: "read", Err: net.ErrClosed}
	}

	if err := c.netConn.SetReadDeadline(deadline); err != nil {
		return "", &ConnectionError{Op: "read", Err: err}
	}

	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineLength {
			return "", &ProtocolError{Msg: "line too long", Line: string(buf[:64])}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if isTimeout(err) {
				return "", &TimeoutError{Op: "read", Err: err}
			}
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return "", &ProtocolError{Msg: "connection closed before line terminator", Line: string(buf)}
			}
			return "", &ConnectionError{Op: "read", Err: err}
		}
		break
	}

	line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
	c.trace("S: " + line)

	return line, nil
}

func (c *conn) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.netConn.Close()
}

// trace logs at Info so that Debug alone is enough to see the exchange,
// whatever level the logger is configured for.
func (c *conn) trace(line string) {
	if c.debug {
		c.logger.Info(line)
	}
}

func classify(op string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

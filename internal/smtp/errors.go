package smtp

import (
	"errors"
	"fmt"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// ConnectionError means the socket could not be opened, or was closed or
// failed underneath the session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// ProtocolError reports malformed or inconsistent reply framing.
type ProtocolError struct {
	Msg  string
	Line string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "protocol error: " + e.Msg
	}
	return fmt.Sprintf("protocol error: %s: %q", e.Msg, e.Line)
}

// UnexpectedReplyError carries the command that was sent and the full reply
// whose code was not acceptable for it.
type UnexpectedReplyError struct {
	Command string
	Reply   *Reply
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply to %s: %d %s", e.Command, e.Reply.Code, e.Reply.Text())
}

func (e *UnexpectedReplyError) Code() int {
	return e.Reply.Code
}

// Temporary reports a 4xx reply.
func (e *UnexpectedReplyError) Temporary() bool {
	return e.Reply.Code >= CodeTransientFailed && e.Reply.Code < CodePermanentFailed
}

type AuthenticationError struct {
	Reply *Reply
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %d %s", e.Reply.Code, e.Reply.Text())
}

// IsTransient reports whether a failed Send may succeed when tried again
// later: a 4xx reply, a timeout or a broken connection. Authentication,
// protocol and 5xx failures are permanent.
func IsTransient(err error) bool {
	var replyErr *UnexpectedReplyError
	if errors.As(err, &replyErr) {
		return replyErr.Temporary()
	}

	var timeoutErr *TimeoutError
	var connErr *ConnectionError
	return errors.As(err, &timeoutErr) || errors.As(err, &connErr)
}

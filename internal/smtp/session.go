package smtp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
)

// session drives one message through the protocol. A session is created
// per Send and never reused.
type session struct {
	endpoint    Endpoint
	credentials *Credentials
	localName   string
	timeout     time.Duration
	quitTimeout time.Duration
	debug       bool
	logger      *slog.Logger

	conn       *conn
	state      SessionState
	greeted    bool
	extensions map[string]string
}

func newSession(t *Transport) *session {
	return &session{
		endpoint:    t.endpoint,
		credentials: t.credentials,
		localName:   t.localName,
		timeout:     t.timeout,
		quitTimeout: t.quitTimeout,
		debug:       t.debug,
		logger:      t.logger.With(slog.String("addr", t.endpoint.Addr())),
		state:       StateDisconnected,
	}
}

func (s *session) run(env Envelope, lines []string) (err error) {
	defer func() {
		if err != nil {
			s.setState(StateFailed)
		}
		s.cleanup()
		if err == nil {
			s.setState(StateClosed)
		}
	}()

	// 1. Connect and read the greeting
	if err = s.connect(); err != nil {
		return err
	}

	// 2. Identify
	if err = s.identify(); err != nil {
		return fmt.Errorf("EHLO command failed: %w", err)
	}
	s.setState(StateIdentified)

	// 3. Upgrade to TLS and identify again
	if s.endpoint.Encryption == EncryptionStartTLS {
		if err = s.startTLS(); err != nil {
			return err
		}
	}
	s.setState(StateEncryptionEstablished)

	// 4. Authenticate
	if s.credentials != nil {
		if err = s.authenticate(); err != nil {
			return err
		}
		s.setState(StateAuthenticated)
	}

	// 5. Envelope and data
	s.setState(StateReady)
	return s.transfer(env, lines)
}

func (s *session) connect() error {
	dialer := net.Dialer{Timeout: s.timeout}
	nc, err := dialer.Dial("tcp", s.endpoint.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", s.endpoint.Host, classify("connect", err))
	}
	s.conn = newConn(nc, s.timeout, s.logger, s.debug)

	s.logger.Debug("Connected to SMTP server", slog.String("encryption", s.endpoint.Encryption.String()))

	if s.endpoint.Encryption == EncryptionImplicitTLS {
		if err := s.conn.upgrade(clientTLSConfig(s.endpoint)); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	if _, err := s.expect("greeting", []int{CodeServiceReady}); err != nil {
		return fmt.Errorf("failed to read server greeting: %w", err)
	}
	s.greeted = true
	s.setState(StateGreeted)

	return nil
}

func (s *session) identify() error {
	reply, err := s.execute(CmdEhlo, []int{CodeOK}, s.localName)
	if err != nil {
		return err
	}

	s.extensions = parseExtensions(reply)
	if s.debug {
		s.logger.Debug("Server extensions", slog.Any("extensions", s.extensions))
	}

	return nil
}

func (s *session) startTLS() error {
	s.setState(StateEncryptionNegotiating)

	if _, ok := s.extensions["STARTTLS"]; !ok {
		s.logger.Debug("Server does not advertise STARTTLS, trying anyway")
	}

	if _, err := s.execute(CmdStartTLS, []int{CodeServiceReady}); err != nil {
		return fmt.Errorf("STARTTLS command failed: %w", err)
	}

	if err := s.conn.upgrade(clientTLSConfig(s.endpoint)); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	// Servers forget everything learned before the upgrade
	if err := s.identify(); err != nil {
		return fmt.Errorf("EHLO after STARTTLS failed: %w", err)
	}

	return nil
}

func (s *session) authenticate() error {
	if _, err := s.execute(CmdAuthLogin, []int{CodeAuthContinue}); err != nil {
		return fmt.Errorf("AUTH LOGIN command failed: %w", err)
	}

	username := base64.StdEncoding.EncodeToString([]byte(s.credentials.Username))
	if _, err := s.execute(CmdAuthUsername, []int{CodeAuthContinue}, username); err != nil {
		return authFailure(err, false)
	}

	password := base64.StdEncoding.EncodeToString([]byte(s.credentials.Password))
	if _, err := s.execute(CmdAuthPassword, []int{CodeAuthSuccess}, password); err != nil {
		return authFailure(err, true)
	}

	return nil
}

// authFailure turns a rejected credential into an AuthenticationError. Before
// the password is sent only an explicit 535 counts as a rejection.
func authFailure(err error, passwordSent bool) error {
	var replyErr *UnexpectedReplyError
	if errors.As(err, &replyErr) && (passwordSent || replyErr.Reply.Code == 535) {
		return &AuthenticationError{Reply: replyErr.Reply}
	}
	return fmt.Errorf("AUTH LOGIN failed: %w", err)
}

func (s *session) transfer(env Envelope, lines []string) error {
	if _, err := s.execute(CmdMailFrom, []int{CodeOK}, env.From.Email); err != nil {
		return fmt.Errorf("MAIL FROM command failed: %w", err)
	}

	// A rejected recipient aborts the whole send
	for _, rcpt := range env.To {
		if _, err := s.execute(CmdRcptTo, []int{CodeOK}, rcpt.Email); err != nil {
			return fmt.Errorf("RCPT TO command failed for %s: %w", rcpt.Email, err)
		}
	}

	if _, err := s.execute(CmdData, []int{CodeStartMailInput}); err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}

	if err := s.conn.writeData(lines); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}

	if _, err := s.execute(CmdDataEnd, []int{CodeOK}); err != nil {
		return fmt.Errorf("email data submission failed: %w", err)
	}

	return nil
}

// execute is the command sequencer: write one command, read one reply and
// check its code.
func (s *session) execute(cmd Command, acceptable []int, args ...any) (*Reply, error) {
	line := cmd.Line(args...)

	label := line
	var err error
	if cmd.Secret {
		label = cmd.Name
		err = s.conn.writeSecret(line)
	} else {
		err = s.conn.writeLine(line)
	}
	if err != nil {
		return nil, err
	}

	return s.expect(label, acceptable)
}

func (s *session) expect(label string, acceptable []int) (*Reply, error) {
	reply, err := s.conn.readReply(time.Now().Add(s.timeout))
	if err != nil {
		return nil, err
	}

	if !slices.Contains(acceptable, reply.Code) {
		return nil, &UnexpectedReplyError{Command: label, Reply: reply}
	}

	return reply, nil
}

// cleanup sends QUIT and closes the connection. Nothing here may fail the
// send; errors are only logged.
func (s *session) cleanup() {
	if s.conn == nil {
		return
	}

	if s.greeted {
		if err := s.conn.writeLine(CmdQuit.Line()); err != nil {
			s.logger.Debug("Failed to send QUIT", sloki.WrapError(err))
		} else if _, err := s.conn.readReply(time.Now().Add(s.quitTimeout)); err != nil {
			s.logger.Debug("No reply to QUIT", sloki.WrapError(err))
		}
	}

	if err := s.conn.close(); err != nil {
		s.logger.Debug("Failed to close connection", sloki.WrapError(err))
	}
}

func (s *session) setState(state SessionState) {
	if s.state == state {
		return
	}
	s.logger.Debug("SMTP session state changed", slog.String("from", s.state.String()), slog.String("to", state.String()))
	s.state = state
}

// parseExtensions reads the EHLO keywords; the first line is the greeting.
func parseExtensions(reply *Reply) map[string]string {
	extensions := map[string]string{}
	if len(reply.Lines) < 2 {
		return extensions
	}

	for _, line := range reply.Lines[1:] {
		keyword, params, _ := strings.Cut(line, " ")
		extensions[strings.ToUpper(keyword)] = params
	}

	return extensions
}

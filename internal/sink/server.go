package sink

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-transport/internal/mails"
	"github.com/OliverSchlueter/mail-transport/internal/users"
)

const (
	MaxLineLength         = 1000
	DefaultMaxMessageSize = 10 << 20
	DefaultMaxRecipients  = 100
	DefaultReadTimeout    = 2 * time.Minute
)

// Server is a receiving SMTP server that keeps every accepted message in a
// mails.Store instead of relaying it.
type Server struct {
	hostname            string
	port                string
	tlsConfig           *tls.Config
	users               *users.Store
	mails               *mails.Store
	metrics             *Metrics
	requireTLS          bool
	requireAuth         bool
	allowInsecureAuth   bool
	localRecipientsOnly bool
	maxMessageSize      int
	maxRecipients       int
	readTimeout         time.Duration

	mu        sync.Mutex
	listeners []net.Listener
	closed    bool
}

type Configuration struct {
	Hostname string
	Port     string
	CertFile string
	KeyFile  string
	// TLSConfig takes precedence over CertFile/KeyFile.
	TLSConfig *tls.Config
	Users     *users.Store
	Mails     *mails.Store
	Metrics   *Metrics
	// RequireTLS rejects MAIL FROM on plaintext connections when TLS is available.
	RequireTLS  bool
	RequireAuth bool
	// AllowInsecureAuth offers AUTH before STARTTLS.
	AllowInsecureAuth bool
	// LocalRecipientsOnly rejects recipients that are not a known user's address.
	LocalRecipientsOnly bool
	MaxMessageSize      int
	MaxRecipients       int
	ReadTimeout         time.Duration
}

func NewServer(config Configuration) *Server {
	if config.Port == "" {
		config.Port = "25"
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.MaxRecipients <= 0 {
		config.MaxRecipients = DefaultMaxRecipients
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil && config.CertFile != "" && config.KeyFile != "" {
		cfg, err := LoadTLSConfig(config.CertFile, config.KeyFile)
		if err != nil {
			slog.Error("Failed to load TLS certificates", sloki.WrapError(err))
		} else {
			tlsConfig = cfg
		}
	}

	return &Server{
		hostname:            config.Hostname,
		port:                config.Port,
		tlsConfig:           tlsConfig,
		users:               config.Users,
		mails:               config.Mails,
		metrics:             config.Metrics,
		requireTLS:          config.RequireTLS,
		requireAuth:         config.RequireAuth,
		allowInsecureAuth:   config.AllowInsecureAuth,
		localRecipientsOnly: config.LocalRecipientsOnly,
		maxMessageSize:      config.MaxMessageSize,
		maxRecipients:       config.MaxRecipients,
		readTimeout:         config.ReadTimeout,
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// StartWithTLS listens for implicit TLS connections on addr (usually :465).
func (s *Server) StartWithTLS(addr string) error {
	if s.tlsConfig == nil {
		return errors.New("no TLS configuration")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeTLS(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	return s.serve(listener, false)
}

func (s *Server) ServeTLS(listener net.Listener) error {
	return s.serve(tls.NewListener(listener, s.tlsConfig), true)
}

func (s *Server) serve(listener net.Listener, implicitTLS bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			slog.Warn("Failed to accept connection", sloki.WrapError(err))
			continue
		}

		go s.handle(conn, implicitTLS)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	var errs []error
	for _, l := range s.listeners {
		errs = append(errs, l.Close())
	}
	s.listeners = nil

	return errors.Join(errs...)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handle(conn net.Conn, implicitTLS bool) {
	defer conn.Close()

	s.metrics.connections.Inc()

	session := &Session{}
	session.RemoteAddr = conn.RemoteAddr().String()
	session.TLSActive = implicitTLS

	slog.Debug("New connection established", "remote_addr", conn.RemoteAddr().String(), "protocol", conn.RemoteAddr().Network())

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	writeLine(w, fmt.Sprintf(StatusServiceReady, s.hostname))

	for {
		if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
			slog.Error("Failed to set connection deadline", sloki.WrapError(err))
			return
		}

		line, err := r.ReadString('\n')
		if err != nil {
			slog.Debug("Connection ended", "remote_addr", session.RemoteAddr, sloki.WrapError(err))
			return
		}

		line = strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(line)

		// Data lines are bounded by the message size limit instead
		if session.Mail.ReadingData {
			s.handleDataLine(session, w, line)
			continue
		}

		if len(line) > MaxLineLength {
			slog.Warn("Received line exceeds maximum length", "line_length", len(line))
			writeLine(w, StatusLineTooLong)
			continue
		}

		if session.AuthLogin.RequestedUsername || session.AuthLogin.RequestedPassword {
			slog.Debug("C: <redacted>")
			s.handleAuthLoginStep(session, w, line)
			continue
		}

		slog.Debug("C: " + line)

		switch {
		// EHLO
		case strings.HasPrefix(upper, CmdEhlo.Prefix):
			s.handleEhlo(session, w, line)

		// HELO
		case strings.HasPrefix(upper, CmdHelo.Prefix):
			s.handleHelo(session, w, line)

		// STARTTLS
		case upper == CmdStartTls.Prefix:
			if s.tlsConfig == nil {
				writeLine(w, StatusNotImplemented)
				continue
			}

			if session.TLSActive {
				writeLine(w, StatusAlreadyTLS)
				continue
			}

			// Plaintext sent ahead of the handshake would be read as if it
			// had arrived encrypted
			if r.Buffered() > 0 {
				slog.Warn("Data pipelined after STARTTLS, closing connection", "remote_addr", session.RemoteAddr)
				writeLine(w, StatusPipelinedStartTLS)
				return
			}

			writeLine(w, StatusReadyStarting)

			// Upgrade connection to TLS
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
				slog.Error("Failed to set connection deadline", sloki.WrapError(err))
				return
			}
			if err := tlsConn.Handshake(); err != nil {
				slog.Warn("TLS handshake failed", sloki.WrapError(err))
				return
			}

			// Reset session but keep remote address
			remoteAddr := session.RemoteAddr
			*session = Session{RemoteAddr: remoteAddr, TLSActive: true}

			// Update connection and readers/writers
			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)

			slog.Debug("TLS connection established", "remote_addr", conn.RemoteAddr().String())

		// AUTH LOGIN
		case upper == CmdAuthLogin.Prefix:
			s.handleAuthLogin(session, w, line)

		// AUTH PLAIN
		case strings.HasPrefix(upper, CmdAuthPlain.Prefix):
			s.handleAuthPlain(session, w, line)

		// MAIL FROM
		case strings.HasPrefix(upper, CmdMailFrom.Prefix):
			s.handleMailFrom(session, w, line)

		// RCPT TO
		case strings.HasPrefix(upper, CmdRcptTo.Prefix):
			s.handleRcptTo(session, w, line)

		// DATA
		case upper == CmdData.Prefix:
			s.handleData(session, w, line)

		// RSET
		case upper == CmdRset.Prefix:
			session.Mail.Reset()
			writeLine(w, StatusOK)

		// NOOP
		case upper == CmdNoop.Prefix:
			writeLine(w, StatusOK)

		// QUIT
		case upper == CmdQuit.Prefix:
			writeLine(w, fmt.Sprintf(StatusConnClosed, s.hostname))
			slog.Debug("Connection closed", "remote_addr", session.RemoteAddr)
			return

		default:
			writeLine(w, StatusBadCommand)
		}
	}
}

func (s *Server) authAvailable(session *Session) bool {
	return s.users != nil && (session.TLSActive || s.allowInsecureAuth)
}

func (s *Server) handleEhlo(session *Session, w *bufio.Writer, line string) {
	clientHostname := strings.TrimSpace(line[len(CmdEhlo.Prefix):])
	session.HeloReceived = true
	session.Hostname = clientHostname

	lines := []string{fmt.Sprintf(StatusGreeting, s.hostname, clientHostname)}
	if !session.TLSActive && s.tlsConfig != nil {
		lines = append(lines, CmdStartTls.Structure)
	}
	if s.authAvailable(session) {
		lines = append(lines, CmdAuthLogin.Structure)
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.maxMessageSize))

	writeMultiline(w, 250, lines)
}

func (s *Server) handleHelo(session *Session, w *bufio.Writer, line string) {
	clientHostname := strings.TrimSpace(line[len(CmdHelo.Prefix):])
	session.HeloReceived = true
	session.Hostname = clientHostname

	writeLine(w, "250 "+fmt.Sprintf(StatusGreeting, s.hostname, clientHostname))
}

func (s *Server) handleAuthLogin(session *Session, w *bufio.Writer, line string) {
	if !s.checkAuthPreconditions(session, w, CmdAuthLogin) {
		return
	}

	session.AuthLogin.RequestedUsername = true
	writeLine(w, StatusAuthUsername) // Request username
}

func (s *Server) handleAuthLoginStep(session *Session, w *bufio.Writer, line string) {
	decoded, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		slog.Warn("Failed to decode base64 credentials", sloki.WrapError(err))
		session.AuthLogin = AuthLogin{}
		writeLine(w, StatusInvalidBase64)
		return
	}

	if session.AuthLogin.RequestedUsername {
		session.AuthLogin.Username = string(decoded)
		session.AuthLogin.RequestedUsername = false
		session.AuthLogin.RequestedPassword = true
		writeLine(w, StatusAuthPassword) // Request password
		return
	}

	session.AuthLogin.Password = string(decoded)
	session.AuthLogin.RequestedPassword = false
	s.authenticate(session, w)
}

func (s *Server) handleAuthPlain(session *Session, w *bufio.Writer, line string) {
	if !s.checkAuthPreconditions(session, w, CmdAuthPlain) {
		return
	}

	credentials := strings.TrimSpace(line[len(CmdAuthPlain.Prefix):])

	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		slog.Warn("Failed to decode base64 credentials", sloki.WrapError(err))
		writeLine(w, StatusInvalidBase64)
		return
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		slog.Warn("Invalid AUTH PLAIN credentials format")
		writeLine(w, StatusInvalidBase64)
		return
	}

	session.AuthLogin.Username = parts[1]
	session.AuthLogin.Password = parts[2]
	s.authenticate(session, w)
}

func (s *Server) checkAuthPreconditions(session *Session, w *bufio.Writer, cmd Command) bool {
	if !session.HeloReceived {
		slog.Warn(fmt.Sprintf("%s command received before %s", cmd.Name, CmdEhlo.Name))
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return false
	}

	if s.users == nil {
		writeLine(w, StatusNotImplemented)
		return false
	}

	if !session.TLSActive && !s.allowInsecureAuth {
		writeLine(w, StatusEncryptionRequired)
		return false
	}

	return true
}

func (s *Server) authenticate(session *Session, w *bufio.Writer) {
	_, err := s.users.Authenticate(session.AuthLogin.Username, session.AuthLogin.Password)
	session.AuthLogin.Password = ""
	if err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			slog.Error("Failed to authenticate user", sloki.WrapError(err))
		}
		s.metrics.authFailures.Inc()
		writeLine(w, StatusAuthenticationFailed)
		return
	}

	session.AuthLogin.IsAuthenticated = true
	writeLine(w, StatusAuthSuccess)
}

func (s *Server) handleMailFrom(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived {
		slog.Warn(fmt.Sprintf("%s command received before %s", CmdMailFrom.Name, CmdEhlo.Name))
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return
	}

	if s.requireTLS && s.tlsConfig != nil && !session.TLSActive {
		slog.Warn(fmt.Sprintf("%s command received without TLS", CmdMailFrom.Name))
		writeLine(w, StatusEncryptionRequired)
		return
	}

	if s.requireAuth && !session.AuthLogin.IsAuthenticated {
		writeLine(w, StatusAuthRequired)
		return
	}

	addr, ok := parsePath(line[len(CmdMailFrom.Prefix):])
	if !ok {
		slog.Warn(fmt.Sprintf("Invalid MAIL FROM address: %s", line))
		writeLine(w, StatusInvalidAddress)
		return
	}

	// Null sender (bounce/DSN) is an empty address
	session.Mail.Reset()
	session.Mail.Started = true
	session.Mail.From = addr

	writeLine(w, StatusOK)
}

func (s *Server) handleRcptTo(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived || !session.Mail.Started {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdMailFrom.Name))
		return
	}

	if len(session.Mail.To) >= s.maxRecipients {
		slog.Warn(fmt.Sprintf("Maximum recipients exceeded for session from %s", session.RemoteAddr))
		writeLine(w, StatusTooManyRecipients)
		return
	}

	recipient, ok := parsePath(line[len(CmdRcptTo.Prefix):])
	if !ok || recipient == "" {
		writeLine(w, StatusInvalidAddress)
		return
	}

	if s.localRecipientsOnly && s.users != nil {
		if _, err := s.users.GetByEmail(recipient); err != nil {
			if !errors.Is(err, users.ErrUserNotFound) {
				slog.Error("Failed to get user by email", sloki.WrapError(err))
			}
			s.metrics.rejectedRecipients.Inc()
			writeLine(w, StatusNoSuchUser)
			return
		}
	}

	session.Mail.To = append(session.Mail.To, recipient)
	writeLine(w, StatusOK)
}

func (s *Server) handleData(session *Session, w *bufio.Writer, line string) {
	if !session.HeloReceived {
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdEhlo.Name))
		return
	}

	if len(session.Mail.To) == 0 {
		slog.Warn(fmt.Sprintf("%s command received without any recipients", CmdData.Name))
		writeLine(w, fmt.Sprintf(StatusBadSequence, CmdRcptTo.Name))
		return
	}

	session.Mail.ReadingData = true
	writeLine(w, StatusStartMailInput)
}

func (s *Server) handleDataLine(session *Session, w *bufio.Writer, line string) {
	if line != "." {
		line = strings.TrimPrefix(line, ".")

		if session.Mail.TooLarge {
			return
		}
		session.Mail.DataBuffer = append(session.Mail.DataBuffer, line)
		if session.Mail.Size() > s.maxMessageSize {
			session.Mail.TooLarge = true
			session.Mail.DataBuffer = nil
		}
		return
	}

	defer session.Mail.Reset()

	if session.Mail.TooLarge {
		writeLine(w, StatusMessageTooLarge)
		return
	}

	if s.mails == nil {
		writeLine(w, StatusOK)
		return
	}

	m, err := s.mails.Deliver(mails.Delivery{
		From:     session.Mail.From,
		To:       session.Mail.To,
		Data:     session.Mail.Data(),
		TLS:      session.TLSActive,
		AuthUser: authUser(session),
	})
	if err != nil {
		slog.Error("Failed to save incoming email", sloki.WrapError(err))
		writeLine(w, StatusInternalServerError)
		return
	}

	s.metrics.messagesReceived.Inc()
	slog.Info("Incoming email received", "id", m.ID, "from", m.From, "to", m.To, "size", m.Size)
	writeLine(w, StatusOK)
}

func authUser(session *Session) string {
	if !session.AuthLogin.IsAuthenticated {
		return ""
	}
	return session.AuthLogin.Username
}

// parsePath extracts the address from "<addr>" optionally followed by
// ESMTP parameters.
func parsePath(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "<") {
		return "", false
	}

	end := strings.Index(arg, ">")
	if end < 0 {
		return "", false
	}

	addr := arg[1:end]
	if addr != "" && strings.Count(addr, "@") != 1 {
		return "", false
	}

	return addr, true
}

func writeMultiline(w *bufio.Writer, code int, lines []string) {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if _, err := fmt.Fprintf(w, "%d%s%s\r\n", code, sep, line); err != nil {
			slog.Error("Failed to write to connection", sloki.WrapError(err))
			return
		}
		slog.Debug(fmt.Sprintf("S: %d%s%s", code, sep, line))
	}

	if err := w.Flush(); err != nil {
		slog.Error("Failed to flush writer", sloki.WrapError(err))
	}
}

func writeLine(w *bufio.Writer, line string) {
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		slog.Error("Failed to write to connection", sloki.WrapError(err))
		return
	}
	if err := w.Flush(); err != nil {
		slog.Error("Failed to flush writer", sloki.WrapError(err))
		return
	}

	slog.Debug("S: " + line)
}

package smtp

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultQuitTimeout = 5 * time.Second

	defaultLocalName   = "localhost"
	defaultProductName = "mail-transport"
)

// Sender is what the mail-composition layer depends on.
type Sender interface {
	Send(env Envelope) error
}

type Configuration struct {
	Endpoint Endpoint
	// Credentials is optional; without it the session skips AUTH.
	Credentials *Credentials
	// LocalName is sent with EHLO and used in Message-IDs. Defaults to the
	// machine's hostname.
	LocalName   string
	Timeout     time.Duration
	QuitTimeout time.Duration
	// Debug enables the C:/S: protocol trace on Logger.
	Debug       bool
	Logger      *slog.Logger
	DKIM        *DKIMConfig
	ProductName string
}

// Transport sends each message over its own connection. It holds no
// mutable state, so Send may be called from many goroutines at once.
type Transport struct {
	endpoint    Endpoint
	credentials *Credentials
	localName   string
	timeout     time.Duration
	quitTimeout time.Duration
	debug       bool
	logger      *slog.Logger
	dkim        *DKIMConfig
	productName string
}

func NewTransport(config Configuration) *Transport {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.QuitTimeout <= 0 {
		config.QuitTimeout = DefaultQuitTimeout
	}
	if config.LocalName == "" {
		config.LocalName = localHostname()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ProductName == "" {
		config.ProductName = defaultProductName
	}

	var credentials *Credentials
	if config.Credentials != nil {
		c := *config.Credentials
		credentials = &c
	}

	return &Transport{
		endpoint:    config.Endpoint,
		credentials: credentials,
		localName:   config.LocalName,
		timeout:     config.Timeout,
		quitTimeout: config.QuitTimeout,
		debug:       config.Debug,
		logger:      config.Logger,
		dkim:        config.DKIM,
		productName: config.ProductName,
	}
}

// Send delivers env to the configured endpoint, running the whole SMTP
// exchange on a fresh connection which is closed before Send returns.
func (t *Transport) Send(env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	msg := formatMessage(env, t.localName, t.productName, time.Now())
	if t.dkim != nil {
		signed, err := signMessage(msg, t.dkim)
		if err != nil {
			return fmt.Errorf("failed to sign message: %w", err)
		}
		msg = signed
	}

	s := newSession(t)
	if err := s.run(env, dataLines(msg)); err != nil {
		t.logger.Warn("Failed to send email",
			slog.String("host", t.endpoint.Host),
			slog.String("state", s.state.String()),
			sloki.WrapError(err),
		)
		return err
	}

	t.logger.Info("Email sent successfully",
		slog.String("host", t.endpoint.Host),
		slog.Int("recipients", len(env.To)),
	)

	return nil
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return defaultLocalName
	}
	return name
}

// Command e2e starts a capture sink in-process and sends one message through
// the transport and one through go-mail as an independent reference client.
// It exits non-zero unless both arrive.
package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/mail-transport/internal/mails"
	fake2 "github.com/OliverSchlueter/mail-transport/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-transport/internal/sink"
	"github.com/OliverSchlueter/mail-transport/internal/smtp"
	"github.com/OliverSchlueter/mail-transport/internal/users"
	"github.com/OliverSchlueter/mail-transport/internal/users/database/fake"
	"github.com/wneessen/go-mail"
)

const hostname = "127.0.0.1"

func main() {
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          "http://localhost:3100/loki/api/v1/push",
		Service:      "mail-transport-e2e",
		ConsoleLevel: slog.LevelDebug,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   false,
	})
	slog.SetDefault(slog.New(lokiService))

	if err := run(); err != nil {
		slog.Error("End-to-end run failed", sloki.WrapError(err))
		os.Exit(1)
	}
}

func run() error {
	// users
	us := users.NewStore(users.Configuration{
		DB: fake.NewDB(),
	})

	// add test users
	err := us.Create(users.User{
		Name:         "oliver",
		Password:     "oliver123",
		PrimaryEmail: "oliver@localhost",
		Emails: []string{
			"oliver@localhost",
		},
	})
	if err != nil {
		return err
	}

	// mails
	ms := mails.NewStore(mails.Configuration{
		DB: fake2.NewDB(),
	})

	tlsConfig, err := sink.SelfSignedTLSConfig(hostname)
	if err != nil {
		return err
	}

	// smtp sink
	server := sink.NewServer(sink.Configuration{
		Hostname:            hostname,
		TLSConfig:           tlsConfig,
		Users:               us,
		Mails:               ms,
		RequireTLS:          true,
		RequireAuth:         true,
		LocalRecipientsOnly: true,
	})
	listener, err := net.Listen("tcp", hostname+":0")
	if err != nil {
		return err
	}
	go server.Serve(listener)
	defer server.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	slog.Info("Started SMTP sink", "port", port)

	clientTLS := &tls.Config{
		ServerName: hostname,
		RootCAs:    sink.CertPool(tlsConfig),
	}

	if err := sendWithTransport(port, clientTLS); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := sendWithGoMail(port, clientTLS); err != nil {
		return fmt.Errorf("go-mail: %w", err)
	}

	received, err := ms.List()
	if err != nil {
		return err
	}
	for _, m := range received {
		slog.Info("Stored mail", "id", m.ID, "from", m.From, "to", m.To, "subject", m.Subject, "tls", m.TLS, "auth_user", m.AuthUser)
	}
	if len(received) != 2 {
		return fmt.Errorf("expected 2 stored mails, got %d", len(received))
	}

	slog.Info("End-to-end run succeeded")
	return nil
}

func sendWithTransport(port int, tlsConfig *tls.Config) error {
	t := smtp.NewTransport(smtp.Configuration{
		Endpoint: smtp.Endpoint{
			Host:       hostname,
			Port:       port,
			Encryption: smtp.EncryptionStartTLS,
			TLSConfig:  tlsConfig,
		},
		Credentials: &smtp.Credentials{Username: "oliver", Password: "oliver123"},
		LocalName:   "e2e.localhost",
		Debug:       true,
	})

	return t.Send(smtp.Envelope{
		From:     smtp.Address{Email: "peter@otherdomain.com", Name: "Peter"},
		To:       []smtp.Address{{Email: "oliver@localhost", Name: "Oliver"}},
		Subject:  "Sent by the transport",
		BodyHTML: "<p>Hello from the transport.</p>",
	})
}

func sendWithGoMail(port int, tlsConfig *tls.Config) error {
	m := mail.NewMsg()
	if err := m.From("peter@otherdomain.com"); err != nil {
		return fmt.Errorf("failed to set From address: %w", err)
	}
	if err := m.To("oliver@localhost"); err != nil {
		return fmt.Errorf("failed to set To address: %w", err)
	}
	m.Subject("Sent by go-mail")
	m.SetBodyString(mail.TypeTextPlain, "Hello from go-mail.")

	c, err := mail.NewClient(
		hostname,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername("oliver"),
		mail.WithPassword("oliver123"),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTLSConfig(tlsConfig),
		mail.WithHELO("e2e-gomail.localhost"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	return c.DialAndSend(m)
}

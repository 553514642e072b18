// Package config reads the binaries' settings from the environment. A .env
// file in the working directory is loaded first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/OliverSchlueter/mail-transport/internal/smtp"
	"github.com/OliverSchlueter/mail-transport/internal/users"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Transport struct {
	Host       string        `env:"SMTP_HOST,required"`
	Port       int           `env:"SMTP_PORT" envDefault:"25"`
	Encryption string        `env:"SMTP_ENCRYPTION" envDefault:"none"`
	Username   string        `env:"SMTP_USERNAME"`
	Password   string        `env:"SMTP_PASSWORD"`
	LocalName  string        `env:"SMTP_LOCAL_NAME"`
	Timeout    time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`
	Debug      bool          `env:"SMTP_DEBUG"`

	DKIMDomain   string `env:"SMTP_DKIM_DOMAIN"`
	DKIMSelector string `env:"SMTP_DKIM_SELECTOR"`
	DKIMKeyFile  string `env:"SMTP_DKIM_KEY_FILE"`
}

type Sink struct {
	Hostname    string `env:"SINK_HOSTNAME" envDefault:"localhost"`
	SMTPPort    string `env:"SINK_SMTP_PORT" envDefault:"2525"`
	HTTPAddr    string `env:"SINK_HTTP_ADDR" envDefault:":8025"`
	CertFile    string `env:"SINK_CERT_FILE"`
	KeyFile     string `env:"SINK_KEY_FILE"`
	SelfSigned  bool   `env:"SINK_SELF_SIGNED"`
	RequireAuth bool   `env:"SINK_REQUIRE_AUTH"`
	// Users is a comma separated list of name:password:email entries.
	Users string `env:"SINK_USERS"`
}

type Logging struct {
	LokiURL     string `env:"LOKI_URL"`
	LokiEnabled bool   `env:"LOKI_ENABLED"`
	Debug       bool   `env:"LOG_DEBUG"`
}

// Load fills cfg from the environment.
func Load[T any](cfg *T) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not load .env file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("could not parse environment: %w", err)
	}

	return nil
}

// SMTPConfiguration converts the environment settings into a transport
// configuration, loading the DKIM key when one is configured.
func (t Transport) SMTPConfiguration() (smtp.Configuration, error) {
	encryption, err := smtp.ParseEncryption(t.Encryption)
	if err != nil {
		return smtp.Configuration{}, err
	}

	cfg := smtp.Configuration{
		Endpoint: smtp.Endpoint{
			Host:       t.Host,
			Port:       t.Port,
			Encryption: encryption,
		},
		LocalName: t.LocalName,
		Timeout:   t.Timeout,
		Debug:     t.Debug,
	}

	if t.Username != "" {
		cfg.Credentials = &smtp.Credentials{
			Username: t.Username,
			Password: t.Password,
		}
	}

	if t.DKIMKeyFile != "" {
		if t.DKIMDomain == "" || t.DKIMSelector == "" {
			return smtp.Configuration{}, errors.New("SMTP_DKIM_DOMAIN and SMTP_DKIM_SELECTOR are required with SMTP_DKIM_KEY_FILE")
		}

		key, err := smtp.LoadDKIMPrivateKey(t.DKIMKeyFile)
		if err != nil {
			return smtp.Configuration{}, err
		}

		cfg.DKIM = &smtp.DKIMConfig{
			Domain:   t.DKIMDomain,
			Selector: t.DKIMSelector,
			Signer:   key,
		}
	}

	return cfg, nil
}

// ParseUsers decodes the SINK_USERS list. Each entry may list several
// addresses separated by '|', the first one being the primary address.
func (s Sink) ParseUsers() ([]users.User, error) {
	var result []users.User

	for _, entry := range strings.Split(s.Users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid user entry %q, expected name:password:email", entry)
		}

		emails := strings.Split(parts[2], "|")
		result = append(result, users.User{
			Name:         parts[0],
			Password:     parts[1],
			PrimaryEmail: emails[0],
			Emails:       emails,
		})
	}

	return result, nil
}

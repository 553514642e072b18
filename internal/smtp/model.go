package smtp

import (
	"crypto/tls"
	"fmt"
	"net/mail"
	"strings"
)

type Encryption int

const (
	EncryptionNone Encryption = iota
	EncryptionStartTLS
	EncryptionImplicitTLS
)

func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionStartTLS:
		return "starttls"
	case EncryptionImplicitTLS:
		return "implicit-tls"
	default:
		return fmt.Sprintf("Encryption(%d)", int(e))
	}
}

// ParseEncryption accepts the names used in configuration files and env vars.
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "plain":
		return EncryptionNone, nil
	case "starttls":
		return EncryptionStartTLS, nil
	case "tls", "ssl", "implicit-tls":
		return EncryptionImplicitTLS, nil
	default:
		return EncryptionNone, fmt.Errorf("unknown encryption mode %q", s)
	}
}

type Endpoint struct {
	Host       string
	Port       int
	Encryption Encryption
	// TLSConfig is cloned before use. When nil, ServerName is set to Host.
	TLSConfig *tls.Config
}

func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type Credentials struct {
	Username string
	Password string
}

type Address struct {
	Email string
	Name  string
}

// String renders the address as an RFC 5322 mailbox, encoding the display name if needed.
func (a Address) String() string {
	if a.Name == "" {
		return "<" + a.Email + ">"
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

type Header struct {
	Name  string
	Value string
}

type Envelope struct {
	From         Address
	To           []Address
	Subject      string
	BodyHTML     string
	ExtraHeaders []Header
}

// reservedHeaders are always written by the formatter and may not be
// repeated through ExtraHeaders.
var reservedHeaders = []string{
	"From", "To", "Subject", "MIME-Version", "Content-Type", "Date", "Message-ID", "X-Mailer", "DKIM-Signature",
}

// Validate checks the envelope before anything is dialed.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.From.Email) == "" {
		return fmt.Errorf("%w: sender address is empty", ErrInvalidEnvelope)
	}
	if err := validateAddress(e.From.Email); err != nil {
		return err
	}
	if len(e.To) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidEnvelope)
	}

	fields := []string{e.From.Email, e.From.Name, e.Subject}
	for _, rcpt := range e.To {
		if strings.TrimSpace(rcpt.Email) == "" {
			return fmt.Errorf("%w: recipient address is empty", ErrInvalidEnvelope)
		}
		if err := validateAddress(rcpt.Email); err != nil {
			return err
		}
		fields = append(fields, rcpt.Email, rcpt.Name)
	}
	for _, h := range e.ExtraHeaders {
		if !validHeaderName(h.Name) {
			return fmt.Errorf("%w: invalid header name %q", ErrInvalidEnvelope, h.Name)
		}
		for _, reserved := range reservedHeaders {
			if strings.EqualFold(h.Name, reserved) {
				return fmt.Errorf("%w: header %q is set by the transport", ErrInvalidEnvelope, h.Name)
			}
		}
		fields = append(fields, h.Value)
	}

	for _, f := range fields {
		if strings.ContainsAny(f, "\r\n") {
			return fmt.Errorf("%w: line break in %q", ErrInvalidEnvelope, f)
		}
	}

	return nil
}

// validateAddress accepts a bare addr-spec only. Anything else would end up
// inside MAIL FROM:<...> or RCPT TO:<...> unescaped.
func validateAddress(addr string) error {
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Name != "" || parsed.Address != addr {
		return fmt.Errorf("%w: invalid address %q", ErrInvalidEnvelope, addr)
	}
	return nil
}

// validHeaderName reports whether name consists of printable US-ASCII
// characters other than ':'.
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 33 || c > 126 || c == ':' {
			return false
		}
	}
	return true
}

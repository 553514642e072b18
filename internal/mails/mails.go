package mails

import (
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DB interface {
	GetMails() ([]Mail, error)
	GetMailByID(id string) (*Mail, error)
	InsertMail(mail Mail) error
	DeleteMails() error
}

type Store struct {
	db DB
}

type Configuration struct {
	DB DB
}

func NewStore(cfg Configuration) *Store {
	return &Store{
		db: cfg.DB,
	}
}

// Deliver stores a received message. Data that does not parse as a
// message is kept whole as the body.
func (s *Store) Deliver(d Delivery) (*Mail, error) {
	m := Mail{
		ID:         uuid.New().String(),
		From:       d.From,
		To:         d.To,
		Headers:    map[string]string{},
		Body:       d.Data,
		Size:       len(d.Data),
		ReceivedAt: time.Now(),
		TLS:        d.TLS,
		AuthUser:   d.AuthUser,
	}

	if msg, err := mail.ReadMessage(strings.NewReader(d.Data)); err == nil {
		for key, values := range msg.Header {
			m.Headers[key] = strings.Join(values, ", ")
		}
		m.Subject = decodeHeader(msg.Header.Get("Subject"))

		if body, err := io.ReadAll(msg.Body); err == nil {
			m.Body = string(body)
		}
	}

	if err := s.db.InsertMail(m); err != nil {
		return nil, err
	}

	return &m, nil
}

func (s *Store) List() ([]Mail, error) {
	return s.db.GetMails()
}

func (s *Store) Get(id string) (*Mail, error) {
	return s.db.GetMailByID(id)
}

func (s *Store) Purge() error {
	return s.db.DeleteMails()
}

func decodeHeader(v string) string {
	decoded, err := new(mime.WordDecoder).DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

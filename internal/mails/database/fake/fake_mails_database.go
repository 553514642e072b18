package fake

import (
	"sync"

	"github.com/OliverSchlueter/mail-transport/internal/mails"
)

type DB struct {
	Mails []mails.Mail
	mu    sync.Mutex
}

func NewDB() *DB {
	return &DB{
		Mails: []mails.Mail{},
	}
}

func (db *DB) GetMails() ([]mails.Mail, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]mails.Mail{}, db.Mails...), nil
}

func (db *DB) GetMailByID(id string) (*mails.Mail, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, mail := range db.Mails {
		if mail.ID == id {
			return &mail, nil
		}
	}
	return nil, mails.ErrMailNotFound
}

func (db *DB) InsertMail(mail mails.Mail) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Mails {
		if existing.ID == mail.ID {
			return mails.ErrMailAlreadyExists
		}
	}

	db.Mails = append(db.Mails, mail)
	return nil
}

func (db *DB) DeleteMails() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.Mails = []mails.Mail{}
	return nil
}

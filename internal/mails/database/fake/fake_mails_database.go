package fake

import (
	"slices"
	"sync"

	"github.com/OliverSchlueter/mail-submit/internal/mails"
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

	return slices.Clone(db.Mails), nil
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

	for _, m := range db.Mails {
		if m.ID == mail.ID {
			return mails.ErrMailAlreadyExists
		}
	}
	db.Mails = append(db.Mails, mail)
	return nil
}

package mails

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type DB interface {
	GetMails() ([]Mail, error)
	GetMailByID(id string) (*Mail, error)
	InsertMail(mail Mail) error
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

// CreateMail stores m, assigning an id and receive time when unset.
func (s *Store) CreateMail(m Mail) (*Mail, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}

	if err := s.db.InsertMail(m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMails() ([]Mail, error) {
	return s.db.GetMails()
}

func (s *Store) GetMailByID(id string) (*Mail, error) {
	return s.db.GetMailByID(id)
}

// GetMailsFor returns the mails with addr among their recipients.
func (s *Store) GetMailsFor(addr string) ([]Mail, error) {
	all, err := s.db.GetMails()
	if err != nil {
		return nil, err
	}

	var res []Mail
	for _, m := range all {
		if slices.Contains(m.To, addr) {
			res = append(res, m)
		}
	}
	return res, nil
}

package whatsapp

import (
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// CredentialStore carica e salva le credenziali della sessione
type CredentialStore interface {
	Load() (*store.Device, error)
	Persist(device *store.Device) error
}

// SessionStore conserva le credenziali whatsmeow in un database SQLite nella directory auth
type SessionStore struct {
	container *sqlstore.Container
}

// OpenSessionStore apre (o crea) <authDir>/whatsmeow.db
func OpenSessionStore(authDir string, logger waLog.Logger) (*SessionStore, error) {
	addr := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(authDir, "whatsmeow.db"))
	container, err := sqlstore.New("sqlite3", addr, logger)
	if err != nil {
		return nil, fmt.Errorf("errore nell'apertura dello store di sessione: %w", err)
	}
	return &SessionStore{container: container}, nil
}

// Load restituisce il dispositivo salvato, oppure uno nuovo da associare
func (s *SessionStore) Load() (*store.Device, error) {
	device, err := s.container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("errore nel recupero del device: %w", err)
	}
	return device, nil
}

// Persist scrive in modo sincrono le credenziali aggiornate
func (s *SessionStore) Persist(device *store.Device) error {
	if device == nil {
		return errors.New("device nil")
	}
	if err := device.Save(); err != nil {
		return fmt.Errorf("errore nel salvataggio delle credenziali: %w", err)
	}
	return nil
}

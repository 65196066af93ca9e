package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"whatsapp-gateway/models"
)

var (
	messagesBucket = []byte("messages")
)

// Journal conserva i messaggi normalizzati ricevuti, in ordine di timestamp
type Journal struct {
	db *bbolt.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("errore nell'apertura del journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Deliver salva il messaggio; è il punto di aggancio alla pipeline dei messaggi
func (j *Journal) Deliver(message *models.Message) error {
	return j.SaveMessage(message)
}

// Salva un messaggio. Salvare di nuovo lo stesso messaggio lo sovrascrive.
func (j *Journal) SaveMessage(message *models.Message) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(messagesBucket)
		data, err := encodeToBinary(message)
		if err != nil {
			return err
		}
		return bucket.Put(messageKey(message), data)
	})
}

// Recent restituisce al massimo limit messaggi, dal più recente.
// Se chatID non è vuoto considera solo quella chat.
func (j *Journal) Recent(chatID string, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	if limit <= 0 {
		return messages, nil
	}

	err := j.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(messagesBucket).Cursor()

		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var msg models.Message
			if err := decodeBinary(v, &msg); err != nil {
				continue
			}
			if chatID != "" && msg.ChatID != chatID {
				continue
			}
			messages = append(messages, msg)
			if len(messages) >= limit {
				break
			}
		}
		return nil
	})

	return messages, err
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// messageKey ordina per timestamp e poi per ID
func messageKey(message *models.Message) []byte {
	key := make([]byte, 8, 8+len(message.ID))
	binary.BigEndian.PutUint64(key, uint64(message.Timestamp))
	return append(key, message.ID...)
}

func encodeToBinary(data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(data)
	return buf.Bytes(), err
}

func decodeBinary(data []byte, target interface{}) error {
	buf := bytes.NewBuffer(data)
	return gob.NewDecoder(buf).Decode(target)
}

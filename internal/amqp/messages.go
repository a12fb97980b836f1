package amqp

import (
	"encoding/json"
	"time"

	"donations/internal/store"
)

// SaveMessage announces that a document was saved to local storage. It carries
// sizes only, never the document itself.
type SaveMessage struct {
	Slot      string    `json:"slot"`
	Buckets   int       `json:"buckets"`
	Donations int       `json:"donations"`
	Bytes     int       `json:"bytes"`
	SavedAt   time.Time `json:"saved_at"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSaveMessage(obs store.SaveObservation) *SaveMessage {
	return &SaveMessage{
		Slot:      obs.Slot,
		Buckets:   obs.Buckets,
		Donations: obs.Donations,
		Bytes:     obs.Bytes,
		SavedAt:   obs.SavedAt,
		Timestamp: time.Now(),
	}
}

func (m *SaveMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SaveMessageFromJSON(data []byte) (*SaveMessage, error) {
	var msg SaveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

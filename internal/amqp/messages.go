package amqp

import (
	"encoding/json"
	"time"
)

// SettlementRecordedMessage announces a stored settlement run. The worker
// reloads the full record from the history store by ID.
type SettlementRecordedMessage struct {
	ID        int64     `json:"id"`
	Transfers int       `json:"transfers"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSettlementRecordedMessage(id int64, transfers int) *SettlementRecordedMessage {
	return &SettlementRecordedMessage{
		ID:        id,
		Transfers: transfers,
		Timestamp: time.Now(),
	}
}

func (m *SettlementRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SettlementRecordedMessageFromJSON(data []byte) (*SettlementRecordedMessage, error) {
	var msg SettlementRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

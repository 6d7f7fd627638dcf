package protocol

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidMessage is returned for messages missing required fields.
var ErrInvalidMessage = errors.New("protocol: invalid alarm message")

// AlarmMessage is a rendered alarm notification queued for delivery.
type AlarmMessage struct {
	ID         string    `json:"id"`
	AlarmID    int64     `json:"alarm_id"`
	UserID     int64     `json:"user_id"`
	Trigger    string    `json:"trigger"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAlarmMessage stamps a message with a fresh id.
func NewAlarmMessage(alarmID, userID int64, trigger string, recipients []string, subject, body string) *AlarmMessage {
	return &AlarmMessage{
		ID:         uuid.NewString(),
		AlarmID:    alarmID,
		UserID:     userID,
		Trigger:    trigger,
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		CreatedAt:  time.Now().UTC(),
	}
}

// Key is the partition key; messages for one user stay ordered.
func (m *AlarmMessage) Key() string {
	return strconv.FormatInt(m.UserID, 10)
}

// EncodeAlarmMessage encodes an AlarmMessage to JSON
func EncodeAlarmMessage(msg *AlarmMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeAlarmMessage decodes JSON to AlarmMessage
func DecodeAlarmMessage(data []byte) (*AlarmMessage, error) {
	var msg AlarmMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || len(msg.Recipients) == 0 {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}

// Package message defines the envelope exchanged between fleet agents.
package message

import (
	"fmt"
	"time"
)

// Type classifies a message. The set is open; the constants below are the
// ones the command servers generate.
type Type string

const (
	Info   Type = "INFO"
	Report Type = "REPORT"
	Cmd    Type = "CMD"
	Sync   Type = "SYNC"
)

// Message is an immutable envelope. Two messages with equal fields are
// indistinguishable.
type Message struct {
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func New(sender, receiver string, typ Type, content string) Message {
	return Message{
		Sender:    sender,
		Receiver:  receiver,
		Type:      typ,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Valid reports whether both endpoints are set.
func (m Message) Valid() bool {
	return m.Sender != "" && m.Receiver != ""
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s : %s | %s: %s",
		m.CreatedAt.Format("2006-01-02 15:04:05"), m.Sender, m.Receiver, m.Type, m.Content)
}

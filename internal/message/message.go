// Package message synchronizes per-chat message streams: listener-driven
// local caches, push-key writes and delivery status tracking.
package message

import "fmt"

// Status is a message delivery state. States only move forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// rank orders statuses for the monotonicity check; 0 means unknown.
func rank(s Status) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Message is a single chat message. Key is the store push key; it names the
// record, so it is not part of the record itself.
type Message struct {
	Key       string `json:"-"`
	ID        string `json:"id"`
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Status    Status `json:"status"`
}

// MessagesPath returns the message stream path for a chat.
func MessagesPath(chatID string) string {
	return "messages/" + chatID
}

func messagePath(chatID, key string) string {
	return fmt.Sprintf("%s/%s", MessagesPath(chatID), key)
}

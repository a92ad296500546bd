package models

import (
	"time"
)

type OutboxMessage struct {
	MessageID   string
	Type        string
	Payload     []byte
	OccurredAt  time.Time
	ProcessedAt *time.Time
}

type InboxMessage struct {
	MessageID  string
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

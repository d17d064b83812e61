// Package events publishes execution lifecycle notifications for downstream
// consumers. Publishing is best effort; the store stays the source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

type MessageType string

const MessageTypeExecutionFinished MessageType = "execution.finished"

// Message is the envelope every event is wrapped in.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExecutionFinished is emitted once an attempt reaches SUCCESS or FAILED.
type ExecutionFinished struct {
	JobID         uuid.UUID     `json:"job_id"`
	ExecutionID   uuid.UUID     `json:"execution_id"`
	ConnectorName string        `json:"connector_name"`
	Attempt       int           `json:"attempt"`
	Status        models.Status `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishExecutionFinished(ctx context.Context, ev ExecutionFinished) error
	Close() error
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return body, nil
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishExecutionFinished(_ context.Context, _ ExecutionFinished) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

var _ Publisher = NopPublisher{}

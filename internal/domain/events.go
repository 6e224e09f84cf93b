package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEvent is published to RabbitMQ after a submission reaches the gateway.
type PaymentEvent struct {
	EventType       string          `json:"event_type"`
	PaymentID       *uuid.UUID      `json:"payment_id,omitempty"`
	PayerID         uuid.UUID       `json:"payer_id"`
	AgentID         uuid.UUID       `json:"agent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ReferenceID     string          `json:"reference_id"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ResponseCode    string          `json:"response_code,omitempty"`
	ResponseMessage string          `json:"response_message,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// SessionRevokeEvent asks this service to end an account's active session.
// Other back-office services emit it, for example after a role change.
type SessionRevokeEvent struct {
	EventID    string    `json:"event_id"`
	AccountID  string    `json:"account_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/agentpay-service/internal/domain"
)

// EventSessionRevoke is the routing key other services use to end a session.
const EventSessionRevoke = "account.session.revoke"

// SessionRevoker is the part of SessionService the consumer needs.
type SessionRevoker interface {
	Revoke(ctx context.Context, accountID uuid.UUID) error
}

// SessionRevocationConsumer ends sessions on request from other services.
type SessionRevocationConsumer struct {
	sessions SessionRevoker
}

func NewSessionRevocationConsumer(sessions SessionRevoker) *SessionRevocationConsumer {
	return &SessionRevocationConsumer{sessions: sessions}
}

// HandleMessage returns false only for failures worth redelivering.
func (c *SessionRevocationConsumer) HandleMessage(body []byte) bool {
	var event domain.SessionRevokeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=session_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	accountID, err := uuid.Parse(strings.TrimSpace(event.AccountID))
	if err != nil {
		log.Printf("level=warn component=session_consumer msg=\"invalid account id; dropping\" event_id=%s account_id=%q", event.EventID, event.AccountID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.sessions.Revoke(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Printf("level=info component=session_consumer msg=\"account not found; acknowledging\" event_id=%s account_id=%s", event.EventID, accountID)
			return true
		}
		log.Printf("level=error component=session_consumer msg=\"revoke failed\" event_id=%s account_id=%s err=%v", event.EventID, accountID, err)
		return false
	}

	log.Printf("level=info component=session_consumer msg=\"session revoked\" event_id=%s account_id=%s reason=%q", event.EventID, accountID, event.Reason)
	return true
}

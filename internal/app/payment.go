/**
 * @description
 * This file contains the payment transaction orchestrator. SubmitPayment validates a
 * payment intent, resolves the receiving agent, charges the payer through the
 * mobile-money gateway exactly once, and on approval records the payment and bumps the
 * agent's running total in a single database transaction.
 *
 * Key features:
 * - Local preconditions are checked in a fixed order before any gateway traffic.
 * - The gateway is never retried: a lost response cannot be told apart from a lost
 *   request, so retrying could charge the payer twice.
 * - An optional Idempotency-Key deduplicates client retries per payer.
 * - Outcomes are published to RabbitMQ; publish failures never fail the request.
 *
 * @dependencies
 * - github.com/shopspring/decimal: amounts.
 * - pkg/gatewayclient: the gateway request schema and response interpretation.
 * - pkg/rabbitmq: payment events.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
	"github.com/transfa/agentpay-service/pkg/gatewayclient"
	"github.com/transfa/agentpay-service/pkg/rabbitmq"
)

// Payment event routing keys on rabbitmq.EventsExchange.
const (
	EventPaymentApproved               = "payment.approved"
	EventPaymentDeclined               = "payment.declined"
	EventPaymentReconciliationRequired = "payment.reconciliation_required"
)

const (
	defaultGatewayTimeout = 30 * time.Second
	persistTimeout        = 15 * time.Second
	publishTimeout        = 5 * time.Second
	maxIdempotencyKeyLen  = 128
)

// PaymentGateway charges a payer. *gatewayclient.Client implements it.
type PaymentGateway interface {
	Purchase(ctx context.Context, req gatewayclient.PurchaseRequest) (*gatewayclient.PurchaseResult, error)
}

// PaymentServiceConfig tunes the orchestrator.
type PaymentServiceConfig struct {
	DefaultCurrency      string
	GatewayTimeout       time.Duration
	RateLimiter          RateLimiter
	SubmitLimitPerMinute int
}

// PaymentService orchestrates payment submissions.
type PaymentService struct {
	repo            store.Repository
	gateway         PaymentGateway
	eventProducer   rabbitmq.Publisher
	defaultCurrency string
	gatewayTimeout  time.Duration
	submitLimit     rateLimitPolicy
	now             func() time.Time
}

// NewPaymentService creates a payment orchestrator.
func NewPaymentService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, cfg PaymentServiceConfig) *PaymentService {
	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &PaymentService{
		repo:            repo,
		gateway:         gateway,
		eventProducer:   producer,
		defaultCurrency: currency,
		gatewayTimeout:  timeout,
		submitLimit: rateLimitPolicy{
			limiter: cfg.RateLimiter,
			scope:   RateLimitScopePayment,
			limit:   cfg.SubmitLimitPerMinute,
			window:  time.Minute,
		},
		now: time.Now,
	}
}

// SubmitPayment charges the payer and credits the agent.
//
// Outcomes:
//   - *ValidationError, ErrAgentNotFound: rejected locally, gateway not contacted.
//   - *GatewayDeclinedError: the gateway refused; nothing was written.
//   - ErrGatewayUnavailable: the gateway outcome is unknown; nothing was written.
//   - ErrPaymentNotRecorded: the gateway approved but persistence failed; a
//     reconciliation event has been published.
func (s *PaymentService) SubmitPayment(ctx context.Context, payer *domain.Principal, req domain.SubmitPaymentRequest) (*domain.Payment, error) {
	if err := Authorize(payer, "payments", domain.RoleClient); err != nil {
		return nil, err
	}

	if fields := ValidatePaymentRequest(req); len(fields) > 0 {
		return nil, newValidationError(fields)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, newValidationError([]FieldError{{Field: "idempotency_key", Reason: ReasonInvalidValue}})
	}

	agent, err := s.resolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	if err := s.submitLimit.check(ctx, payer.AccountID.String()); err != nil {
		return nil, err
	}

	amount := req.Amount.Round(2)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	accountNo := NormalizePhone(req.AccountNo)

	if key != "" {
		fingerprint := requestFingerprint(agent.ID, amount, currency, accountNo)
		replay, err := s.claimIdempotencyKey(ctx, payer.AccountID, key, fingerprint)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	referenceID := uuid.NewString()

	purchase := gatewayclient.PurchaseRequest{
		ReferenceID: referenceID,
		InvoiceID:   invoiceID(referenceID),
		AccountNo:   accountNo,
		Amount:      amount,
		Currency:    currency,
		Description: fmt.Sprintf("Payment to agent %s", agent.FullName),
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	result, err := s.gateway.Purchase(gatewayCtx, purchase)
	cancel()
	if err != nil {
		log.Printf("level=error component=payments msg=\"gateway call failed\" payer_id=%s agent_id=%s reference_id=%s err=%v", payer.AccountID, agent.ID, referenceID, err)
		s.markKeyUnknown(ctx, payer.AccountID, key)
		if errors.Is(err, gatewayclient.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if !result.Approved() {
		log.Printf("level=info component=payments msg=\"payment declined\" payer_id=%s agent_id=%s reference_id=%s response_code=%s", payer.AccountID, agent.ID, referenceID, result.Response.ResponseCode)
		s.releaseKey(ctx, payer.AccountID, key)
		s.publish(ctx, EventPaymentDeclined, domain.PaymentEvent{
			EventType:       EventPaymentDeclined,
			PayerID:         payer.AccountID,
			AgentID:         agent.ID,
			Amount:          amount,
			Currency:        currency,
			ReferenceID:     referenceID,
			ResponseCode:    result.Response.ResponseCode,
			ResponseMessage: result.Message(),
			OccurredAt:      s.now().UTC(),
		})
		return nil, &GatewayDeclinedError{Code: result.Response.ResponseCode, Message: result.Message()}
	}

	payment := s.buildPayment(payer.AccountID, req, agent, amount, currency, accountNo, referenceID, result)
	if key != "" {
		payment.IdempotencyKey = &key
	}

	// Money has moved; a client disconnect must not abort the write.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()
	if err := s.repo.RecordApprovedPayment(persistCtx, payment, amount); err != nil {
		log.Printf("level=critical component=payments msg=\"approved payment not recorded; reconciliation required\" payment_id=%s payer_id=%s agent_id=%s amount=%s currency=%s reference_id=%s transaction_id=%s err=%v",
			payment.ID, payer.AccountID, agent.ID, amount.StringFixed(2), currency, referenceID, payment.TransactionID, err)
		s.markKeyUnknown(persistCtx, payer.AccountID, key)
		s.publish(persistCtx, EventPaymentReconciliationRequired, paymentEvent(EventPaymentReconciliationRequired, payment, s.now()))
		return nil, ErrPaymentNotRecorded
	}

	log.Printf("level=info component=payments msg=\"payment approved\" payment_id=%s payer_id=%s agent_id=%s amount=%s currency=%s reference_id=%s", payment.ID, payer.AccountID, agent.ID, amount.StringFixed(2), currency, referenceID)
	s.publish(persistCtx, EventPaymentApproved, paymentEvent(EventPaymentApproved, payment, s.now()))
	return payment, nil
}

func (s *PaymentService) resolveAgent(ctx context.Context, rawAgentID string) (*domain.Account, error) {
	agentID, err := uuid.Parse(strings.TrimSpace(rawAgentID))
	if err != nil {
		return nil, ErrAgentNotFound
	}
	agent, err := s.repo.FindAccountByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("find agent: %w", err)
	}
	if !agent.IsAgent() {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// claimIdempotencyKey returns the stored payment when key already completed for the
// same request. A key reused for a different request is rejected whatever its status.
func (s *PaymentService) claimIdempotencyKey(ctx context.Context, payerID uuid.UUID, key, fingerprint string) (*domain.Payment, error) {
	record, claimed, err := s.repo.ClaimIdempotencyKey(ctx, payerID, key, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrIdempotencyKeyNotFound) {
			return nil, ErrDuplicateSubmission
		}
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}
	if record.Fingerprint != "" && record.Fingerprint != fingerprint {
		log.Printf("level=warn component=payments msg=\"idempotency key reused for a different request\" payer_id=%s", payerID)
		return nil, ErrIdempotencyKeyReused
	}
	if record.Status == domain.IdempotencyCompleted && record.PaymentID != nil {
		payment, err := s.repo.FindPaymentByID(ctx, *record.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("load replayed payment: %w", err)
		}
		log.Printf("level=info component=payments msg=\"replaying completed submission\" payment_id=%s payer_id=%s", payment.ID, payerID)
		return payment, nil
	}
	return nil, ErrDuplicateSubmission
}

func (s *PaymentService) releaseKey(ctx context.Context, payerID uuid.UUID, key string) {
	if key == "" {
		return
	}
	if err := s.repo.ReleaseIdempotencyKey(ctx, payerID, key); err != nil {
		log.Printf("level=warn component=payments msg=\"failed to release idempotency key\" payer_id=%s err=%v", payerID, err)
	}
}

func (s *PaymentService) markKeyUnknown(ctx context.Context, payerID uuid.UUID, key string) {
	if key == "" {
		return
	}
	if err := s.repo.MarkIdempotencyKeyUnknown(context.WithoutCancel(ctx), payerID, key); err != nil {
		log.Printf("level=warn component=payments msg=\"failed to mark idempotency key unknown\" payer_id=%s err=%v", payerID, err)
	}
}

func (s *PaymentService) buildPayment(
	payerID uuid.UUID,
	req domain.SubmitPaymentRequest,
	agent *domain.Account,
	amount decimal.Decimal,
	currency string,
	accountNo string,
	referenceID string,
	result *gatewayclient.PurchaseResult,
) *domain.Payment {
	params := result.Response.Params
	gatewayReference := strings.TrimSpace(params.ReferenceID)
	if gatewayReference == "" {
		gatewayReference = referenceID
	}
	now := s.now().UTC()
	return &domain.Payment{
		ID:                  uuid.New(),
		PayerID:             payerID,
		PayerFullName:       strings.TrimSpace(req.FullName),
		PayerAccountNo:      accountNo,
		AgentID:             agent.ID,
		AgentFullName:       agent.FullName,
		Amount:              amount,
		Currency:            currency,
		PaymentMethod:       domain.PaymentMethodMobileWallet,
		ReferenceID:         gatewayReference,
		TransactionID:       params.TransactionID,
		IssuerTransactionID: params.IssuerTransactionID,
		State:               params.State,
		ResponseCode:        result.Response.ResponseCode,
		ResponseMessage:     result.Message(),
		MerchantCharges:     parseGatewayAmount(params.MerchantCharges),
		ProcessedAmount:     parseGatewayAmount(params.TxAmount),
		PaidAt:              now,
	}
}

func (s *PaymentService) publish(ctx context.Context, routingKey string, event domain.PaymentEvent) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.eventProducer.Publish(publishCtx, rabbitmq.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=payments msg=\"failed to publish payment event\" routing_key=%s reference_id=%s err=%v", routingKey, event.ReferenceID, err)
	}
}

func paymentEvent(eventType string, payment *domain.Payment, at time.Time) domain.PaymentEvent {
	id := payment.ID
	return domain.PaymentEvent{
		EventType:       eventType,
		PaymentID:       &id,
		PayerID:         payment.PayerID,
		AgentID:         payment.AgentID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		ReferenceID:     payment.ReferenceID,
		TransactionID:   payment.TransactionID,
		ResponseCode:    payment.ResponseCode,
		ResponseMessage: payment.ResponseMessage,
		OccurredAt:      at.UTC(),
	}
}

// parseGatewayAmount reads the gateway's free-form amount strings; unparseable values are dropped.
func parseGatewayAmount(raw string) *decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil
	}
	return &value
}

func invoiceID(referenceID string) string {
	return "INV-" + strings.ToUpper(strings.ReplaceAll(referenceID, "-", "")[:12])
}

// requestFingerprint identifies what a submission would charge, so a reused
// Idempotency-Key can be told apart from a genuine retry.
func requestFingerprint(agentID uuid.UUID, amount decimal.Decimal, currency, accountNo string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{agentID.String(), amount.StringFixed(2), currency, accountNo}, "|")))
	return hex.EncodeToString(sum[:])
}

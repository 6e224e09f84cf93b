/**
 * @description
 * This file defines the repository interfaces the agent payment service depends on.
 * The application layer only sees these interfaces, which keeps business logic
 * independent of PostgreSQL and lets tests substitute small stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
)

var (
	ErrAccountNotFound          = errors.New("account not found")
	ErrEmailTaken               = errors.New("email already registered")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrIdempotencyKeyNotFound   = errors.New("idempotency key not found")
	ErrAgentTotalUpdateRejected = errors.New("agent running total not updated")
)

// AccountRepository is the credential store.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListAgents(ctx context.Context) ([]domain.Account, error)
	UpdateAccountProfile(ctx context.Context, accountID uuid.UUID, update domain.AccountProfileUpdate) (*domain.Account, error)
	DeleteAccount(ctx context.Context, accountID uuid.UUID) error

	// Session state. Each call is a single atomic statement.
	SetSession(ctx context.Context, accountID uuid.UUID, tokenDigest string, deviceInfo *string, at time.Time) error
	ClearSession(ctx context.Context, accountID uuid.UUID) error
	ClearSessionIfCurrent(ctx context.Context, accountID uuid.UUID, tokenDigest string) (bool, error)
	ExpireStaleSessions(ctx context.Context, loggedInBefore time.Time) (int64, error)
}

// PaymentRepository persists approved payments and serves the query services.
type PaymentRepository interface {
	// RecordApprovedPayment inserts the payment and adds amount to the agent's running
	// total in one database transaction. The increment is an atomic SQL add. When the
	// payment carries an idempotency key, the key is marked completed in the same transaction.
	RecordApprovedPayment(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListAllPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, error)
	ListPaymentsByAgent(ctx context.Context, agentID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error)
	ListPaymentsByPayer(ctx context.Context, payerID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error)
	GetPaymentSummary(ctx context.Context) (*domain.PaymentSummary, error)
}

// IdempotencyRepository tracks client-supplied Idempotency-Key values per payer.
type IdempotencyRepository interface {
	// ClaimIdempotencyKey inserts an in-flight record carrying the request fingerprint.
	// When the key already exists it returns the existing record and claimed=false.
	// Keys are completed by RecordApprovedPayment, in the same transaction as the payment.
	ClaimIdempotencyKey(ctx context.Context, payerID uuid.UUID, key, fingerprint string) (record *domain.IdempotencyRecord, claimed bool, err error)
	MarkIdempotencyKeyUnknown(ctx context.Context, payerID uuid.UUID, key string) error
	ReleaseIdempotencyKey(ctx context.Context, payerID uuid.UUID, key string) error
	PurgeIdempotencyKeys(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Repository is the full data access surface implemented by PostgresRepository.
type Repository interface {
	AccountRepository
	PaymentRepository
	IdempotencyRepository
}

/**
 * @description
 * Payment models. A payment row exists only for gateway-approved transactions and is
 * immutable once written. Payer and agent names are snapshotted at creation time so the
 * record keeps its audit value even if the accounts later change or disappear.
 *
 * @notes
 * - Amounts use shopspring/decimal; the gateway expects exactly two decimal places.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a submission does not name one.
const DefaultCurrency = "USD"

var (
	// MaxStoredAmount is the largest value the NUMERIC(18,2) amount columns hold.
	MaxStoredAmount = decimal.RequireFromString("9999999999999999.99")
	// MaxPaymentAmount caps a single submission far enough below MaxStoredAmount that
	// an approved charge always fits the payment row and the agent's running total.
	MaxPaymentAmount = decimal.NewFromInt(1_000_000_000)
)

// PaymentMethod enumerates how the payer funds a payment.
type PaymentMethod string

const (
	PaymentMethodMobileWallet PaymentMethod = "MWALLET_ACCOUNT"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodBankTransfer PaymentMethod = "MWALLET_BANKACCOUNT"
)

// Payment maps to the `payments` table.
type Payment struct {
	ID uuid.UUID `json:"id"`

	PayerID        uuid.UUID `json:"payer_id"`
	PayerFullName  string    `json:"payer_full_name"`
	PayerAccountNo string    `json:"payer_account_no"`
	AgentID        uuid.UUID `json:"agent_id"`
	AgentFullName  string    `json:"agent_full_name"`

	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`

	// Gateway outcome snapshot, stored verbatim.
	ReferenceID         string           `json:"reference_id"`
	TransactionID       string           `json:"transaction_id"`
	IssuerTransactionID string           `json:"issuer_transaction_id"`
	State               string           `json:"state"`
	ResponseCode        string           `json:"response_code"`
	ResponseMessage     string           `json:"response_message"`
	MerchantCharges     *decimal.Decimal `json:"merchant_charges,omitempty"`
	ProcessedAmount     *decimal.Decimal `json:"processed_amount,omitempty"`

	IdempotencyKey *string `json:"-"`

	PaidAt    time.Time `json:"paid_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmitPaymentRequest is the body of POST /payments.
type SubmitPaymentRequest struct {
	FullName      string           `json:"full_name"`
	AccountNo     string           `json:"account_no"`
	AgentID       string           `json:"agent_id"`
	AgentFullName string           `json:"agent_full_name"`
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`

	// IdempotencyKey comes from the Idempotency-Key header, never the body.
	IdempotencyKey string `json:"-"`
}

// PaymentListOptions bounds the query services.
type PaymentListOptions struct {
	Limit  int
	Offset int
}

// PaymentSummary is the admin dashboard aggregate.
type PaymentSummary struct {
	PaymentCount int64           `json:"payment_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AgentCount   int64           `json:"agent_count"`
}

// IdempotencyStatus tracks a claimed Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "in_flight"
	IdempotencyCompleted IdempotencyStatus = "completed"
	// IdempotencyUnknown marks keys whose gateway outcome could not be established.
	// They are never released, so a retry with the same key cannot double-charge.
	IdempotencyUnknown IdempotencyStatus = "unknown"
)

// IdempotencyRecord maps to the `payment_idempotency_keys` table. Fingerprint identifies
// the request that claimed the key; it is empty on rows written before fingerprints were stored.
type IdempotencyRecord struct {
	PayerID     uuid.UUID
	Key         string
	Status      IdempotencyStatus
	PaymentID   *uuid.UUID
	Fingerprint string
	CreatedAt   time.Time
}

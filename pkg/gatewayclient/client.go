/**
 * @description
 * This package provides a client for the mobile-money payment gateway. It builds the
 * gateway's versioned JSON purchase request, sends it with the merchant credentials
 * and interprets the response code into an approved or declined result.
 *
 * @notes
 * - Any transport failure, timeout, non-2xx status or undecodable body is reported as
 *   ErrGatewayUnavailable. Callers must not assume the charge did or did not happen.
 * - The client never retries; a lost response could otherwise charge the payer twice.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: request ids.
 * - github.com/shopspring/decimal: two-decimal amount formatting.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SchemaVersion      = "1.0"
	ApprovedCode       = "2001"
	PaymentMethodPhone = "MWALLET_ACCOUNT"
	purchasePath       = "/asm"

	// maxResponseBytes bounds how much of a gateway response is read.
	maxResponseBytes = 1 << 20
)

// ErrGatewayUnavailable is returned when the gateway could not be reached or its
// response could not be understood.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Credentials identify the merchant to the gateway.
type Credentials struct {
	MerchantUID string
	APIUserID   string
	APIKey      string
}

// Config holds everything the client reads at call time.
type Config struct {
	BaseURL     string
	Credentials Credentials
	ChannelName string
	ServiceName string
	Timeout     time.Duration
}

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL     string
	Credentials Credentials
	ChannelName string
	ServiceName string
	HTTPClient  *http.Client

	now func() time.Time
}

// NewClient creates a new gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	channel := strings.TrimSpace(cfg.ChannelName)
	if channel == "" {
		channel = "WEB"
	}
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "API_PURCHASE"
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		Credentials: cfg.Credentials,
		ChannelName: channel,
		ServiceName: service,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// PurchaseRequest is the payment intent handed to the client.
type PurchaseRequest struct {
	ReferenceID string
	InvoiceID   string
	AccountNo   string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// purchasePayload is the gateway's request schema.
type purchasePayload struct {
	SchemaVersion string        `json:"schemaVersion"`
	RequestID     string        `json:"requestId"`
	Timestamp     string        `json:"timestamp"`
	ChannelName   string        `json:"channelName"`
	ServiceName   string        `json:"serviceName"`
	ServiceParams serviceParams `json:"serviceParams"`
}

type serviceParams struct {
	MerchantUID     string          `json:"merchantUid"`
	APIUserID       string          `json:"apiUserId"`
	APIKey          string          `json:"apiKey"`
	PaymentMethod   string          `json:"paymentMethod"`
	PayerInfo       payerInfo       `json:"payerInfo"`
	TransactionInfo transactionInfo `json:"transactionInfo"`
}

type payerInfo struct {
	AccountNo string `json:"accountNo"`
}

type transactionInfo struct {
	ReferenceID string `json:"referenceId"`
	InvoiceID   string `json:"invoiceId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// PurchaseResponse is the gateway's response body.
type PurchaseResponse struct {
	SchemaVersion string         `json:"schemaVersion"`
	Timestamp     string         `json:"timestamp"`
	ResponseID    string         `json:"responseId"`
	ResponseCode  string         `json:"responseCode"`
	ErrorCode     string         `json:"errorCode"`
	ResponseMsg   string         `json:"responseMsg"`
	Params        ResponseParams `json:"params"`
}

// ResponseParams carries the transaction snapshot returned by the gateway.
type ResponseParams struct {
	State               string `json:"state"`
	ReferenceID         string `json:"referenceId"`
	TransactionID       string `json:"transactionId"`
	IssuerTransactionID string `json:"issuerTransactionId"`
	TxAmount            string `json:"txAmount"`
	MerchantCharges     string `json:"merchantCharges"`
	AccountType         string `json:"accountType"`
}

// PurchaseResult is the interpreted gateway outcome.
type PurchaseResult struct {
	RequestID string
	Response  PurchaseResponse
}

// Approved reports whether the gateway returned its approval code.
func (r *PurchaseResult) Approved() bool {
	return r != nil && strings.TrimSpace(r.Response.ResponseCode) == ApprovedCode
}

// Message is the human readable gateway message, verbatim.
func (r *PurchaseResult) Message() string {
	if r == nil {
		return ""
	}
	return r.Response.ResponseMsg
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// Purchase sends a single purchase request. It is never retried.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	requestID := uuid.NewString()
	payload := purchasePayload{
		SchemaVersion: SchemaVersion,
		RequestID:     requestID,
		Timestamp:     c.now().UTC().Format(time.RFC3339),
		ChannelName:   c.ChannelName,
		ServiceName:   c.ServiceName,
		ServiceParams: serviceParams{
			MerchantUID:   c.Credentials.MerchantUID,
			APIUserID:     c.Credentials.APIUserID,
			APIKey:        c.Credentials.APIKey,
			PaymentMethod: PaymentMethodPhone,
			PayerInfo:     payerInfo{AccountNo: req.AccountNo},
			TransactionInfo: transactionInfo{
				ReferenceID: req.ReferenceID,
				InvoiceID:   req.InvoiceID,
				Amount:      FormatAmount(req.Amount),
				Currency:    req.Currency,
				Description: req.Description,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+purchasePath, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		log.Printf("level=warn component=gateway_client op=purchase reference_id=%s msg=\"transport failure\" err=%v", req.ReferenceID, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if len(bodyBytes) > maxResponseBytes {
		log.Printf("level=warn component=gateway_client op=purchase reference_id=%s limit_bytes=%d msg=\"response body too large\"", req.ReferenceID, maxResponseBytes)
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrGatewayUnavailable, maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=gateway_client op=purchase reference_id=%s status=%d msg=\"non-2xx response\"", req.ReferenceID, resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var decoded PurchaseResponse
	if err := json.Unmarshal(bodyBytes, &decoded); err != nil {
		log.Printf("level=warn component=gateway_client op=purchase reference_id=%s msg=\"undecodable response\" err=%v", req.ReferenceID, err)
		return nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if strings.TrimSpace(decoded.ResponseCode) == "" {
		return nil, fmt.Errorf("%w: response code missing", ErrGatewayUnavailable)
	}

	log.Printf("level=info component=gateway_client op=purchase reference_id=%s response_code=%s state=%s", req.ReferenceID, decoded.ResponseCode, decoded.Params.State)
	return &PurchaseResult{RequestID: requestID, Response: decoded}, nil
}

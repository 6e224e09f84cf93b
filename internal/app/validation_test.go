package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
)

func amountPtr(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func validPaymentRequest(agentID string) domain.SubmitPaymentRequest {
	return domain.SubmitPaymentRequest{
		FullName:      "Amina Hassan",
		AccountNo:     "252615123456",
		AgentID:       agentID,
		AgentFullName: "Yusuf Ali",
		Amount:        amountPtr("25.00"),
		Currency:      "USD",
	}
}

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"252615123456", true},
		{"+252615123456", true},
		{"0615123456", true},
		{"615123456", true},
		{"+252 61 512 3456", true},
		{"252-61-512-3456", true},
		{"252605123456", false},
		{"25261512345", false},
		{"2526151234567", false},
		{"abc615123456", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := IsValidPhone(tc.raw); got != tc.want {
			t.Errorf("IsValidPhone(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestValidatePaymentRequest(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*domain.SubmitPaymentRequest)
		wantReason string
		wantField  string
	}{
		{name: "valid", mutate: func(*domain.SubmitPaymentRequest) {}},
		{name: "missing full name", mutate: func(r *domain.SubmitPaymentRequest) { r.FullName = "  " }, wantReason: ReasonMissingField, wantField: "full_name"},
		{name: "missing account number", mutate: func(r *domain.SubmitPaymentRequest) { r.AccountNo = "" }, wantReason: ReasonMissingField, wantField: "account_no"},
		{name: "missing agent id", mutate: func(r *domain.SubmitPaymentRequest) { r.AgentID = "" }, wantReason: ReasonMissingField, wantField: "agent_id"},
		{name: "missing agent name", mutate: func(r *domain.SubmitPaymentRequest) { r.AgentFullName = "" }, wantReason: ReasonMissingField, wantField: "agent_full_name"},
		{name: "missing amount", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = nil }, wantReason: ReasonMissingField, wantField: "amount"},
		{name: "bad phone", mutate: func(r *domain.SubmitPaymentRequest) { r.AccountNo = "12345" }, wantReason: ReasonInvalidPhone, wantField: "account_no"},
		{name: "zero amount", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("0") }, wantReason: ReasonNonPositiveAmount, wantField: "amount"},
		{name: "negative amount", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("-5") }, wantReason: ReasonNonPositiveAmount, wantField: "amount"},
		{name: "rounds to zero", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("0.004") }, wantReason: ReasonNonPositiveAmount, wantField: "amount"},
		{name: "amount at ceiling", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("1000000000.00") }},
		{name: "amount above ceiling", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("1000000000.01") }, wantReason: ReasonAmountTooLarge, wantField: "amount"},
		{name: "amount beyond storage precision", mutate: func(r *domain.SubmitPaymentRequest) { r.Amount = amountPtr("1e20") }, wantReason: ReasonAmountTooLarge, wantField: "amount"},
		{name: "bad currency", mutate: func(r *domain.SubmitPaymentRequest) { r.Currency = "dollars" }, wantReason: ReasonInvalidValue, wantField: "currency"},
		{name: "missing wins over bad phone", mutate: func(r *domain.SubmitPaymentRequest) {
			r.FullName = ""
			r.AccountNo = "12345"
		}, wantReason: ReasonMissingField, wantField: "full_name"},
		{name: "bad phone wins over zero amount", mutate: func(r *domain.SubmitPaymentRequest) {
			r.AccountNo = "12345"
			r.Amount = amountPtr("0")
		}, wantReason: ReasonInvalidPhone, wantField: "account_no"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validPaymentRequest("4b0e3d1c-52a4-4f0c-9a53-7a3f0f6d1e11")
			tc.mutate(&req)
			fields := ValidatePaymentRequest(req)
			if tc.wantReason == "" {
				if len(fields) != 0 {
					t.Fatalf("expected no field errors, got %+v", fields)
				}
				return
			}
			if len(fields) == 0 {
				t.Fatalf("expected field errors")
			}
			if fields[0].Reason != tc.wantReason || fields[0].Field != tc.wantField {
				t.Fatalf("expected first error %s/%s, got %+v", tc.wantField, tc.wantReason, fields[0])
			}
			if verr := newValidationError(fields); verr.Reason != tc.wantReason {
				t.Fatalf("expected reported reason %s, got %s", tc.wantReason, verr.Reason)
			}
		})
	}
}

func TestValidatePaymentRequest_ListsEveryMissingField(t *testing.T) {
	fields := ValidatePaymentRequest(domain.SubmitPaymentRequest{})
	if len(fields) != 5 {
		t.Fatalf("expected five missing fields, got %+v", fields)
	}
	for _, f := range fields {
		if f.Reason != ReasonMissingField {
			t.Fatalf("expected only missing_field errors, got %+v", f)
		}
	}
}

package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
)

func TestNormalizeListOptions(t *testing.T) {
	tests := []struct {
		name       string
		opts       domain.PaymentListOptions
		wantLimit  int
		wantOffset int
	}{
		{name: "zero value uses default", opts: domain.PaymentListOptions{}, wantLimit: defaultListLimit, wantOffset: 0},
		{name: "caps large limit", opts: domain.PaymentListOptions{Limit: 10_000}, wantLimit: maxListLimit, wantOffset: 0},
		{name: "negative offset clamps", opts: domain.PaymentListOptions{Limit: 5, Offset: -3}, wantLimit: 5, wantOffset: 0},
		{name: "passes through", opts: domain.PaymentListOptions{Limit: 20, Offset: 40}, wantLimit: 20, wantOffset: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := normalizeListOptions(tt.opts)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Fatalf("expected (%d, %d), got (%d, %d)", tt.wantLimit, tt.wantOffset, limit, offset)
			}
		})
	}
}

func TestParseOptionalDecimal(t *testing.T) {
	got, err := parseOptionalDecimal(nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil result for nil input, got %v err=%v", got, err)
	}

	raw := " 25.50 "
	got, err = parseOptionalDecimal(&raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("expected 25.5, got %s", got)
	}

	bad := "twenty"
	if _, err := parseOptionalDecimal(&bad); err == nil {
		t.Fatal("expected parse error for non-numeric text")
	}
}

func TestOptionalDecimalText(t *testing.T) {
	if optionalDecimalText(nil) != nil {
		t.Fatal("expected nil text for nil decimal")
	}
	value := decimal.RequireFromString("0.25")
	text := optionalDecimalText(&value)
	if text == nil || *text != "0.25" {
		t.Fatalf("expected 0.25, got %v", text)
	}
}

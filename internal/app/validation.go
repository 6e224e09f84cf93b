package app

import (
	"regexp"
	"strings"

	"github.com/transfa/agentpay-service/internal/domain"
)

// Mobile-wallet numbers: optional 252 country code or trunk 0, then a 6x operator
// prefix and seven subscriber digits.
var phonePattern = regexp.MustCompile(`^(?:\+?252|0)?6[1-9][0-9]{7}$`)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizePhone strips the separators people commonly type into wallet numbers.
func NormalizePhone(raw string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(raw))
}

// IsValidPhone reports whether raw looks like a mobile-wallet account number.
func IsValidPhone(raw string) bool {
	return phonePattern.MatchString(NormalizePhone(raw))
}

// ValidatePaymentRequest returns every field error in the request, ordered by stage:
// missing fields first, then phone shape, then amount range. A later stage is only
// evaluated for fields that passed the earlier ones.
func ValidatePaymentRequest(req domain.SubmitPaymentRequest) []FieldError {
	var missing, shape, amount []FieldError

	required := []struct {
		field string
		value string
	}{
		{"full_name", req.FullName},
		{"account_no", req.AccountNo},
		{"agent_id", req.AgentID},
		{"agent_full_name", req.AgentFullName},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, FieldError{Field: r.field, Reason: ReasonMissingField})
		}
	}
	if req.Amount == nil {
		missing = append(missing, FieldError{Field: "amount", Reason: ReasonMissingField})
	}

	if strings.TrimSpace(req.AccountNo) != "" && !IsValidPhone(req.AccountNo) {
		shape = append(shape, FieldError{Field: "account_no", Reason: ReasonInvalidPhone})
	}

	// The gateway takes two decimal places; 0.004 would be sent as 0.00.
	if req.Amount != nil {
		rounded := req.Amount.Round(2)
		switch {
		case !rounded.IsPositive():
			amount = append(amount, FieldError{Field: "amount", Reason: ReasonNonPositiveAmount})
		case rounded.GreaterThan(domain.MaxPaymentAmount):
			amount = append(amount, FieldError{Field: "amount", Reason: ReasonAmountTooLarge})
		}
	}

	var invalid []FieldError
	if c := strings.TrimSpace(req.Currency); c != "" && !currencyPattern.MatchString(strings.ToUpper(c)) {
		invalid = append(invalid, FieldError{Field: "currency", Reason: ReasonInvalidValue})
	}

	out := make([]FieldError, 0, len(missing)+len(shape)+len(amount)+len(invalid))
	out = append(out, missing...)
	out = append(out, shape...)
	out = append(out, amount...)
	out = append(out, invalid...)
	return out
}

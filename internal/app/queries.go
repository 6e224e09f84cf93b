package app

import (
	"context"
	"fmt"

	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
)

// QueryService serves read-only payment views scoped by role.
type QueryService struct {
	repo store.PaymentRepository
}

func NewQueryService(repo store.PaymentRepository) *QueryService {
	return &QueryService{repo: repo}
}

// ListAllPayments returns every payment, newest first. Admin only.
func (s *QueryService) ListAllPayments(ctx context.Context, principal *domain.Principal, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	if err := Authorize(principal, "payments", domain.RoleAdmin); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListAllPayments(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list all payments: %w", err)
	}
	return payments, nil
}

// ListPaymentsReceivedBy returns the calling agent's received payments.
func (s *QueryService) ListPaymentsReceivedBy(ctx context.Context, principal *domain.Principal, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	if err := Authorize(principal, "agent payments", domain.RoleAgent); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPaymentsByAgent(ctx, principal.AccountID, opts)
	if err != nil {
		return nil, fmt.Errorf("list agent payments: %w", err)
	}
	return payments, nil
}

// ListPaymentsMadeBy returns the calling client's own payments.
func (s *QueryService) ListPaymentsMadeBy(ctx context.Context, principal *domain.Principal, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	if err := Authorize(principal, "user payments", domain.RoleClient); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPaymentsByPayer(ctx, principal.AccountID, opts)
	if err != nil {
		return nil, fmt.Errorf("list payer payments: %w", err)
	}
	return payments, nil
}

// PaymentSummary aggregates all payments for the admin dashboard.
func (s *QueryService) PaymentSummary(ctx context.Context, principal *domain.Principal) (*domain.PaymentSummary, error) {
	if err := Authorize(principal, "payment summary", domain.RoleAdmin); err != nil {
		return nil, err
	}
	summary, err := s.repo.GetPaymentSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment summary: %w", err)
	}
	return summary, nil
}

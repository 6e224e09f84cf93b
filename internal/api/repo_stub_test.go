package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
)

// memoryRepo is the minimal in-memory store.Repository the API scenarios need.
type memoryRepo struct {
	store.Repository

	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	payments []domain.Payment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[uuid.UUID]*domain.Account)}
}

func (m *memoryRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == domain.NormalizeEmail(account.Email) {
			return store.ErrEmailTaken
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = domain.NormalizeEmail(account.Email)
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

func (m *memoryRepo) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memoryRepo) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Email == domain.NormalizeEmail(email) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *memoryRepo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		out = append(out, *account)
	}
	return out, nil
}

func (m *memoryRepo) ListAgents(ctx context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, 0)
	for _, account := range m.accounts {
		if account.Role == domain.RoleAgent {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (m *memoryRepo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return store.ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *memoryRepo) SetSession(ctx context.Context, id uuid.UUID, digest string, deviceInfo *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.IsLoggedIn = true
	account.CurrentSessionToken = &digest
	account.LastLoginAt = &at
	account.LoginDeviceInfo = deviceInfo
	return nil
}

func (m *memoryRepo) ClearSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.IsLoggedIn = false
	account.CurrentSessionToken = nil
	account.LoginDeviceInfo = nil
	return nil
}

func (m *memoryRepo) ClearSessionIfCurrent(ctx context.Context, id uuid.UUID, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok || account.CurrentSessionToken == nil || *account.CurrentSessionToken != digest {
		return false, nil
	}
	account.IsLoggedIn = false
	account.CurrentSessionToken = nil
	return true, nil
}

func (m *memoryRepo) RecordApprovedPayment(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.accounts[payment.AgentID]
	if !ok || agent.Role != domain.RoleAgent {
		return store.ErrAgentTotalUpdateRejected
	}
	total := agent.TotalDonation.Add(amount)
	agent.TotalDonation = &total
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *memoryRepo) ListAllPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Payment(nil), m.payments...), nil
}

func (m *memoryRepo) ListPaymentsByPayer(ctx context.Context, payerID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Payment, 0)
	for _, p := range m.payments {
		if p.PayerID == payerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListPaymentsByAgent(ctx context.Context, agentID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Payment, 0)
	for _, p := range m.payments {
		if p.AgentID == agentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRepo) agentTotal(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id].TotalDonation
}

func (m *memoryRepo) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
	"github.com/transfa/agentpay-service/pkg/gatewayclient"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	passwordHashCost = bcrypt.MinCost
}

// memoryRepoStub is an in-memory store.Repository. Each method holds the lock for its
// whole body, mirroring the single-statement atomicity of the Postgres implementation.
type memoryRepoStub struct {
	store.Repository

	mu          sync.Mutex
	accounts    map[uuid.UUID]*domain.Account
	payments    []*domain.Payment
	idempotency map[string]*domain.IdempotencyRecord

	recordErr   error
	recordCalls int
	findErr     error
}

func newMemoryRepoStub() *memoryRepoStub {
	return &memoryRepoStub{
		accounts:    make(map[uuid.UUID]*domain.Account),
		idempotency: make(map[string]*domain.IdempotencyRecord),
	}
}

func (s *memoryRepoStub) seedAgent(name string, total string) *domain.Account {
	address := "Hodan District, Mogadishu"
	phone := "252615000001"
	opening := decimal.RequireFromString(total)
	return s.seed(&domain.Account{
		Email:         strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@agents.example.com",
		FullName:      name,
		Role:          domain.RoleAgent,
		Address:       &address,
		PhoneNumber:   &phone,
		TotalDonation: &opening,
	})
}

func (s *memoryRepoStub) seed(account *domain.Account) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = domain.NormalizeEmail(account.Email)
	stored := *account
	s.accounts[account.ID] = &stored
	return account
}

func (s *memoryRepoStub) agentTotal(agentID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[agentID].TotalDonation
}

func (s *memoryRepoStub) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *memoryRepoStub) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := domain.NormalizeEmail(account.Email)
	for _, existing := range s.accounts {
		if existing.Email == email {
			return store.ErrEmailTaken
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = email
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	stored := *account
	s.accounts[account.ID] = &stored
	return nil
}

func (s *memoryRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *memoryRepoStub) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, account := range s.accounts {
		if account.Email == email {
			copied := *account
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (s *memoryRepoStub) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, *account)
	}
	return out, nil
}

func (s *memoryRepoStub) ListAgents(ctx context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0)
	for _, account := range s.accounts {
		if account.Role == domain.RoleAgent {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (s *memoryRepoStub) UpdateAccountProfile(ctx context.Context, accountID uuid.UUID, update domain.AccountProfileUpdate) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if update.Email != nil {
		for id, other := range s.accounts {
			if id != accountID && other.Email == *update.Email {
				return nil, store.ErrEmailTaken
			}
		}
		account.Email = *update.Email
	}
	if update.FullName != nil {
		account.FullName = *update.FullName
	}
	if update.PasswordHash != nil {
		account.PasswordHash = *update.PasswordHash
	}
	if account.Role == domain.RoleAgent {
		if update.Address != nil {
			account.Address = update.Address
		}
		if update.PhoneNumber != nil {
			account.PhoneNumber = update.PhoneNumber
		}
	}
	copied := *account
	return &copied, nil
}

func (s *memoryRepoStub) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return store.ErrAccountNotFound
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *memoryRepoStub) SetSession(ctx context.Context, accountID uuid.UUID, tokenDigest string, deviceInfo *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	digest := tokenDigest
	loginAt := at
	account.IsLoggedIn = true
	account.CurrentSessionToken = &digest
	account.LastLoginAt = &loginAt
	account.LoginDeviceInfo = deviceInfo
	return nil
}

func (s *memoryRepoStub) ClearSession(ctx context.Context, accountID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.IsLoggedIn = false
	account.CurrentSessionToken = nil
	account.LoginDeviceInfo = nil
	return nil
}

func (s *memoryRepoStub) ClearSessionIfCurrent(ctx context.Context, accountID uuid.UUID, tokenDigest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok || account.CurrentSessionToken == nil || *account.CurrentSessionToken != tokenDigest {
		return false, nil
	}
	account.IsLoggedIn = false
	account.CurrentSessionToken = nil
	account.LoginDeviceInfo = nil
	return true, nil
}

func (s *memoryRepoStub) RecordApprovedPayment(ctx context.Context, payment *domain.Payment, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	if s.recordErr != nil {
		return s.recordErr
	}
	agent, ok := s.accounts[payment.AgentID]
	if !ok || agent.Role != domain.RoleAgent || agent.TotalDonation == nil {
		return store.ErrAgentTotalUpdateRejected
	}
	total := agent.TotalDonation.Add(amount)
	agent.TotalDonation = &total
	stored := *payment
	s.payments = append(s.payments, &stored)
	if payment.IdempotencyKey != nil {
		if record, ok := s.idempotency[idempotencyMapKey(payment.PayerID, *payment.IdempotencyKey)]; ok {
			id := payment.ID
			record.Status = domain.IdempotencyCompleted
			record.PaymentID = &id
		}
	}
	return nil
}

func (s *memoryRepoStub) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payment := range s.payments {
		if payment.ID == paymentID {
			copied := *payment
			return &copied, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (s *memoryRepoStub) filterPayments(keep func(*domain.Payment) bool) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Payment, 0)
	for _, payment := range s.payments {
		if keep(payment) {
			out = append(out, *payment)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.After(out[j].PaidAt) })
	return out
}

func (s *memoryRepoStub) ListAllPayments(ctx context.Context, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	return s.filterPayments(func(*domain.Payment) bool { return true }), nil
}

func (s *memoryRepoStub) ListPaymentsByAgent(ctx context.Context, agentID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	return s.filterPayments(func(p *domain.Payment) bool { return p.AgentID == agentID }), nil
}

func (s *memoryRepoStub) ListPaymentsByPayer(ctx context.Context, payerID uuid.UUID, opts domain.PaymentListOptions) ([]domain.Payment, error) {
	return s.filterPayments(func(p *domain.Payment) bool { return p.PayerID == payerID }), nil
}

func (s *memoryRepoStub) GetPaymentSummary(ctx context.Context) (*domain.PaymentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := &domain.PaymentSummary{TotalAmount: decimal.Zero}
	for _, payment := range s.payments {
		summary.PaymentCount++
		summary.TotalAmount = summary.TotalAmount.Add(payment.Amount)
	}
	for _, account := range s.accounts {
		if account.Role == domain.RoleAgent {
			summary.AgentCount++
		}
	}
	return summary, nil
}

func idempotencyMapKey(payerID uuid.UUID, key string) string {
	return payerID.String() + "|" + key
}

func (s *memoryRepoStub) ClaimIdempotencyKey(ctx context.Context, payerID uuid.UUID, key, fingerprint string) (*domain.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.idempotency[idempotencyMapKey(payerID, key)]; ok {
		copied := *existing
		return &copied, false, nil
	}
	record := &domain.IdempotencyRecord{PayerID: payerID, Key: key, Status: domain.IdempotencyInFlight, Fingerprint: fingerprint, CreatedAt: time.Now()}
	s.idempotency[idempotencyMapKey(payerID, key)] = record
	copied := *record
	return &copied, true, nil
}

func (s *memoryRepoStub) MarkIdempotencyKeyUnknown(ctx context.Context, payerID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.idempotency[idempotencyMapKey(payerID, key)]
	if !ok {
		return store.ErrIdempotencyKeyNotFound
	}
	record.Status = domain.IdempotencyUnknown
	return nil
}

func (s *memoryRepoStub) ReleaseIdempotencyKey(ctx context.Context, payerID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapKey := idempotencyMapKey(payerID, key)
	if record, ok := s.idempotency[mapKey]; ok && record.Status == domain.IdempotencyInFlight {
		delete(s.idempotency, mapKey)
	}
	return nil
}

func (s *memoryRepoStub) idempotencyStatus(payerID uuid.UUID, key string) (domain.IdempotencyStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.idempotency[idempotencyMapKey(payerID, key)]
	if !ok {
		return "", false
	}
	return record.Status, true
}

// gatewayStub counts calls and answers with a canned outcome.
type gatewayStub struct {
	mu       sync.Mutex
	calls    int
	requests []gatewayclient.PurchaseRequest
	code     string
	message  string
	err      error
	sawCtx   context.Context
}

func approvingGateway() *gatewayStub {
	return &gatewayStub{code: gatewayclient.ApprovedCode, message: "RCS_SUCCESS"}
}

func (g *gatewayStub) Purchase(ctx context.Context, req gatewayclient.PurchaseRequest) (*gatewayclient.PurchaseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.requests = append(g.requests, req)
	g.sawCtx = ctx
	if g.err != nil {
		return nil, g.err
	}
	return &gatewayclient.PurchaseResult{
		RequestID: uuid.NewString(),
		Response: gatewayclient.PurchaseResponse{
			SchemaVersion: gatewayclient.SchemaVersion,
			ResponseCode:  g.code,
			ResponseMsg:   g.message,
			Params: gatewayclient.ResponseParams{
				State:               "APPROVED",
				ReferenceID:         req.ReferenceID,
				TransactionID:       "TX-" + req.ReferenceID[:8],
				IssuerTransactionID: "ISS-" + req.ReferenceID[:8],
				TxAmount:            req.Amount.StringFixed(2),
				MerchantCharges:     "0.25",
			},
		},
	}, nil
}

func (g *gatewayStub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

// rateLimiterStub allows the first limit calls per scope/subject.
type rateLimiterStub struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, 0, r.err
	}
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[scope+"|"+subject]++
	return r.counts[scope+"|"+subject], 42, nil
}

/**
 * @description
 * Account lifecycle: registration, password login, profile maintenance, agent
 * onboarding by an admin, and account deletion. Every successful registration or
 * login goes through SessionService.IssueSession, which makes it the account's only
 * valid session.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt refuses longer inputs.
	maxPasswordBytes = 72
)

// passwordHashCost is lowered in tests.
var passwordHashCost = bcrypt.DefaultCost

// dummyPasswordHash is compared against when an email is unknown so the response
// time does not reveal whether the account exists.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("agentpay-dummy-password"), bcrypt.DefaultCost)

// AccountService owns the credential lifecycle.
type AccountService struct {
	repo       store.AccountRepository
	sessions   *SessionService
	loginLimit rateLimitPolicy
}

// NewAccountService creates an account service. limiter may be nil.
func NewAccountService(repo store.AccountRepository, sessions *SessionService, limiter RateLimiter, loginLimitPerMinute int) *AccountService {
	return &AccountService{
		repo:     repo,
		sessions: sessions,
		loginLimit: rateLimitPolicy{
			limiter: limiter,
			scope:   RateLimitScopeLogin,
			limit:   loginLimitPerMinute,
			window:  time.Minute,
		},
	}
}

// Register creates a client account and logs it in.
func (s *AccountService) Register(ctx context.Context, req domain.RegisterRequest, deviceInfo *string) (*domain.AuthResult, error) {
	fields := validateCredentials(req.FullName, req.Email, req.Password)
	if len(fields) > 0 {
		return nil, newValidationError(fields)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	account := &domain.Account{
		Email:        domain.NormalizeEmail(req.Email),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         domain.RoleClient,
		PasswordHash: hash,
	}
	if err := s.createAccount(ctx, account); err != nil {
		return nil, err
	}
	log.Printf("level=info component=accounts msg=\"account registered\" account_id=%s role=%s", account.ID, account.Role)

	return s.startSession(ctx, account, deviceInfo)
}

// Login verifies the password and issues a new session, replacing any existing one.
func (s *AccountService) Login(ctx context.Context, req domain.LoginRequest, deviceInfo *string) (*domain.AuthResult, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		fields := make([]FieldError, 0, 2)
		if email == "" {
			fields = append(fields, FieldError{Field: "email", Reason: ReasonMissingField})
		}
		if req.Password == "" {
			fields = append(fields, FieldError{Field: "password", Reason: ReasonMissingField})
		}
		return nil, newValidationError(fields)
	}
	if err := s.loginLimit.check(ctx, email); err != nil {
		return nil, err
	}

	account, err := s.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.startSession(ctx, account, deviceInfo)
}

// Logout ends the caller's session when token is still the current one.
func (s *AccountService) Logout(ctx context.Context, principal *domain.Principal, token string) error {
	if principal == nil {
		return ErrUnauthenticated
	}
	return s.sessions.Logout(ctx, principal.AccountID, token)
}

// GetProfile returns the caller's own account.
func (s *AccountService) GetProfile(ctx context.Context, principal *domain.Principal) (*domain.Account, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}
	return s.findAccount(ctx, principal.AccountID)
}

// UpdateProfile patches the caller's account. Address and phone number belong to agents.
func (s *AccountService) UpdateProfile(ctx context.Context, principal *domain.Principal, req domain.UpdateProfileRequest) (*domain.Account, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}

	var fields []FieldError
	update := domain.AccountProfileUpdate{}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			fields = append(fields, FieldError{Field: "full_name", Reason: ReasonMissingField})
		}
		update.FullName = &name
	}
	if req.Email != nil {
		email := domain.NormalizeEmail(*req.Email)
		if !isValidEmail(email) {
			fields = append(fields, FieldError{Field: "email", Reason: ReasonInvalidValue})
		}
		update.Email = &email
	}
	if req.Password != nil {
		if !isAcceptablePassword(*req.Password) {
			fields = append(fields, FieldError{Field: "password", Reason: ReasonInvalidValue})
		} else {
			hash, err := hashPassword(*req.Password)
			if err != nil {
				return nil, err
			}
			update.PasswordHash = &hash
		}
	}
	if req.Address != nil || req.PhoneNumber != nil {
		if principal.Role != domain.RoleAgent {
			if req.Address != nil {
				fields = append(fields, FieldError{Field: "address", Reason: ReasonInvalidValue})
			}
			if req.PhoneNumber != nil {
				fields = append(fields, FieldError{Field: "phone_number", Reason: ReasonInvalidValue})
			}
		} else {
			if req.Address != nil {
				address := strings.TrimSpace(*req.Address)
				if address == "" {
					fields = append(fields, FieldError{Field: "address", Reason: ReasonMissingField})
				}
				update.Address = &address
			}
			if req.PhoneNumber != nil {
				phone := NormalizePhone(*req.PhoneNumber)
				if !IsValidPhone(phone) {
					fields = append(fields, FieldError{Field: "phone_number", Reason: ReasonInvalidPhone})
				}
				update.PhoneNumber = &phone
			}
		}
	}
	if len(fields) > 0 {
		return nil, newValidationError(sortFieldErrors(fields))
	}

	account, err := s.repo.UpdateAccountProfile(ctx, principal.AccountID, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			return nil, ErrAccountNotFound
		case errors.Is(err, store.ErrEmailTaken):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return account, nil
}

// DeleteAccount removes targetID. Principals may delete themselves; admins may delete anyone.
func (s *AccountService) DeleteAccount(ctx context.Context, principal *domain.Principal, targetID uuid.UUID) error {
	if principal == nil {
		return ErrUnauthenticated
	}
	if principal.AccountID != targetID {
		if err := Authorize(principal, "account", domain.RoleAdmin); err != nil {
			return err
		}
	}

	if err := s.sessions.Revoke(ctx, targetID); err != nil {
		return err
	}
	if err := s.repo.DeleteAccount(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	log.Printf("level=info component=accounts msg=\"account deleted\" account_id=%s deleted_by=%s", targetID, principal.AccountID)
	return nil
}

// ListAccounts returns every account. Admin only.
func (s *AccountService) ListAccounts(ctx context.Context, principal *domain.Principal) ([]domain.Account, error) {
	if err := Authorize(principal, "users", domain.RoleAdmin); err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ListAgents returns all agents so clients can pick a payee.
func (s *AccountService) ListAgents(ctx context.Context, principal *domain.Principal) ([]domain.Account, error) {
	if err := Authorize(principal, "agents", domain.RoleAdmin, domain.RoleClient, domain.RoleAgent); err != nil {
		return nil, err
	}
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// CreateAgent onboards an agent. Address, phone number and the opening total are required.
func (s *AccountService) CreateAgent(ctx context.Context, principal *domain.Principal, req domain.CreateAgentRequest) (*domain.Account, error) {
	if err := Authorize(principal, "agents", domain.RoleAdmin); err != nil {
		return nil, err
	}

	fields := validateCredentials(req.FullName, req.Email, req.Password)
	if strings.TrimSpace(req.Address) == "" {
		fields = append(fields, FieldError{Field: "address", Reason: ReasonMissingField})
	}
	phone := NormalizePhone(req.PhoneNumber)
	if phone == "" {
		fields = append(fields, FieldError{Field: "phone_number", Reason: ReasonMissingField})
	} else if !IsValidPhone(phone) {
		fields = append(fields, FieldError{Field: "phone_number", Reason: ReasonInvalidPhone})
	}
	if req.TotalDonation == nil {
		fields = append(fields, FieldError{Field: "total_donation", Reason: ReasonMissingField})
	} else if req.TotalDonation.IsNegative() || req.TotalDonation.Round(2).GreaterThan(domain.MaxStoredAmount) {
		fields = append(fields, FieldError{Field: "total_donation", Reason: ReasonInvalidValue})
	}
	if len(fields) > 0 {
		return nil, newValidationError(sortFieldErrors(fields))
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(req.Address)
	total := req.TotalDonation.Round(2)
	account := &domain.Account{
		Email:         domain.NormalizeEmail(req.Email),
		FullName:      strings.TrimSpace(req.FullName),
		Role:          domain.RoleAgent,
		PasswordHash:  hash,
		Address:       &address,
		PhoneNumber:   &phone,
		TotalDonation: &total,
	}
	if err := s.createAccount(ctx, account); err != nil {
		return nil, err
	}
	log.Printf("level=info component=accounts msg=\"agent created\" agent_id=%s created_by=%s", account.ID, principal.AccountID)
	return account, nil
}

// BootstrapAdmin creates the admin account when it does not exist yet.
func (s *AccountService) BootstrapAdmin(ctx context.Context, email, password, fullName string) (*domain.Account, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil
	}
	existing, err := s.repo.FindAccountByEmail(ctx, email)
	if err == nil {
		if existing.Role != domain.RoleAdmin {
			log.Printf("level=warn component=accounts msg=\"bootstrap admin email belongs to a non-admin account\" account_id=%s role=%s", existing.ID, existing.Role)
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("find bootstrap admin: %w", err)
	}

	if strings.TrimSpace(fullName) == "" {
		fullName = "Administrator"
	}
	if fields := validateCredentials(fullName, email, password); len(fields) > 0 {
		return nil, newValidationError(fields)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	admin := &domain.Account{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Role:         domain.RoleAdmin,
		PasswordHash: hash,
	}
	if err := s.createAccount(ctx, admin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return s.repo.FindAccountByEmail(ctx, email)
		}
		return nil, err
	}
	log.Printf("level=info component=accounts msg=\"bootstrap admin created\" account_id=%s", admin.ID)
	return admin, nil
}

func (s *AccountService) startSession(ctx context.Context, account *domain.Account, deviceInfo *string) (*domain.AuthResult, error) {
	token, err := s.sessions.IssueSession(ctx, account, deviceInfo)
	if err != nil {
		return nil, err
	}
	refreshed, err := s.findAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{Account: refreshed, Token: token}, nil
}

func (s *AccountService) createAccount(ctx context.Context, account *domain.Account) error {
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *AccountService) findAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func validateCredentials(fullName, email, password string) []FieldError {
	var missing, invalid []FieldError
	if strings.TrimSpace(fullName) == "" {
		missing = append(missing, FieldError{Field: "full_name", Reason: ReasonMissingField})
	}
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		missing = append(missing, FieldError{Field: "email", Reason: ReasonMissingField})
	} else if !isValidEmail(normalized) {
		invalid = append(invalid, FieldError{Field: "email", Reason: ReasonInvalidValue})
	}
	if password == "" {
		missing = append(missing, FieldError{Field: "password", Reason: ReasonMissingField})
	} else if !isAcceptablePassword(password) {
		invalid = append(invalid, FieldError{Field: "password", Reason: ReasonInvalidValue})
	}
	return append(missing, invalid...)
}

func isAcceptablePassword(password string) bool {
	return len(password) >= minPasswordLength && len(password) <= maxPasswordBytes
}

func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// sortFieldErrors orders errors by stage so the first entry names the reported reason.
func sortFieldErrors(fields []FieldError) []FieldError {
	rank := map[string]int{
		ReasonMissingField:      0,
		ReasonInvalidPhone:      1,
		ReasonNonPositiveAmount: 2,
		ReasonAmountTooLarge:    2,
		ReasonInvalidValue:      3,
	}
	out := make([]FieldError, 0, len(fields))
	for stage := 0; stage <= 3; stage++ {
		for _, f := range fields {
			if rank[f.Reason] == stage {
				out = append(out, f)
			}
		}
	}
	return out
}

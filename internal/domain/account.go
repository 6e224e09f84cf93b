/**
 * @description
 * This file defines the account model shared by the credential store, the session
 * authenticator and the payment orchestrator. An account is either an admin, a client
 * (payer) or an agent (payee). Agents carry a running total of everything they have
 * received through approved payments.
 *
 * @notes
 * - The password hash and the stored session digest never leave the service; both are
 *   tagged `json:"-"`.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the authorization role of an account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleAgent  Role = "agent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RoleAgent:
		return true
	}
	return false
}

// Account maps to the `accounts` table.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`

	// Agent-only fields.
	Address       *string          `json:"address,omitempty"`
	PhoneNumber   *string          `json:"phone_number,omitempty"`
	TotalDonation *decimal.Decimal `json:"total_donation,omitempty"`

	// Session state, mutated only by the session authenticator.
	IsLoggedIn          bool       `json:"is_logged_in"`
	CurrentSessionToken *string    `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LoginDeviceInfo     *string    `json:"login_device_info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAgent reports whether the account can receive payments.
func (a *Account) IsAgent() bool {
	return a != nil && a.Role == RoleAgent
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	AccountID uuid.UUID
	Role      Role
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateAgentRequest is the body of POST /agents. All fields are required;
// total donation is explicit even when it starts at zero.
type CreateAgentRequest struct {
	FullName      string           `json:"full_name"`
	Email         string           `json:"email"`
	Password      string           `json:"password"`
	Address       string           `json:"address"`
	PhoneNumber   string           `json:"phone_number"`
	TotalDonation *decimal.Decimal `json:"total_donation"`
}

// UpdateProfileRequest is the body of PUT /profile. Nil fields are left untouched.
type UpdateProfileRequest struct {
	FullName    *string `json:"full_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Password    *string `json:"password,omitempty"`
	Address     *string `json:"address,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

// AccountProfileUpdate is the storage-level patch produced from an UpdateProfileRequest.
type AccountProfileUpdate struct {
	FullName     *string
	Email        *string
	PasswordHash *string
	Address      *string
	PhoneNumber  *string
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Account *Account `json:"account"`
	Token   string   `json:"token"`
}

/**
 * @description
 * Single-active-session authentication. A login mints an HS256 token and records its
 * SHA-256 digest on the account; a token is accepted only while its digest is the one
 * currently stored, so every new login silently invalidates the previous token.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token signing and verification.
 * - internal/store: the credential store holding the session fields.
 */

package app

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/agentpay-service/internal/domain"
	"github.com/transfa/agentpay-service/internal/store"
)

// DefaultSessionTTL is the validity window of a session token.
const DefaultSessionTTL = 30 * 24 * time.Hour

// sessionClaims is the signed token payload.
type sessionClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionService issues and validates session tokens.
type SessionService struct {
	repo       store.AccountRepository
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewSessionService creates a session service. A non-positive ttl falls back to 30 days.
func NewSessionService(repo store.AccountRepository, signingKey string, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		repo:       repo,
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}
}

// TTL returns the configured token lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// IssueSession mints a token for the account and records it as the only valid one.
func (s *SessionService) IssueSession(ctx context.Context, account *domain.Account, deviceInfo *string) (string, error) {
	if account == nil {
		return "", ErrAccountNotFound
	}
	now := s.now().UTC()
	claims := sessionClaims{
		Role: account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	if err := s.repo.SetSession(ctx, account.ID, digestToken(token), trimDeviceInfo(deviceInfo), now); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("record session: %w", err)
	}
	return token, nil
}

// Authenticate validates the token and checks it is still the account's current session.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("load session account: %w", err)
	}
	if !account.IsLoggedIn || account.CurrentSessionToken == nil {
		return nil, ErrSessionInvalid
	}
	if subtle.ConstantTimeCompare([]byte(*account.CurrentSessionToken), []byte(digestToken(token))) != 1 {
		return nil, ErrSessionInvalid
	}
	// A role change since login forces a fresh session.
	if account.Role != claims.Role {
		log.Printf("level=info component=session msg=\"rejecting token with stale role\" account_id=%s token_role=%s stored_role=%s", account.ID, claims.Role, account.Role)
		return nil, ErrSessionInvalid
	}

	return &domain.Principal{AccountID: accountID, Role: claims.Role}, nil
}

// Revoke ends whatever session the account currently holds.
func (s *SessionService) Revoke(ctx context.Context, accountID uuid.UUID) error {
	if err := s.repo.ClearSession(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Logout ends the session only if token is still the current one, so a stale
// device logging out cannot kill a newer login.
func (s *SessionService) Logout(ctx context.Context, accountID uuid.UUID, token string) error {
	cleared, err := s.repo.ClearSessionIfCurrent(ctx, accountID, digestToken(token))
	if err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	if !cleared {
		return ErrSessionInvalid
	}
	return nil
}

func (s *SessionService) parse(token string) (*sessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims := &sessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthenticated
	}
	if !claims.Role.Valid() || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// digestToken is what the credential store keeps instead of the raw token.
func digestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const maxDeviceInfoBytes = 512

// trimDeviceInfo makes a raw header value storable in a TEXT column: valid UTF-8,
// no NUL bytes, at most maxDeviceInfoBytes and never split inside a rune.
func trimDeviceInfo(deviceInfo *string) *string {
	if deviceInfo == nil {
		return nil
	}
	cleaned := strings.ReplaceAll(strings.ToValidUTF8(*deviceInfo, ""), "\x00", "")
	trimmed := strings.TrimSpace(cleaned)
	if len(trimmed) > maxDeviceInfoBytes {
		cut := maxDeviceInfoBytes
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = strings.TrimSpace(trimmed[:cut])
	}
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

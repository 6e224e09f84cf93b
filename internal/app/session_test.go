package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/agentpay-service/internal/domain"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestSessionService(repo *memoryRepoStub) *SessionService {
	return NewSessionService(repo, testSigningKey, 0)
}

func seedClient(repo *memoryRepoStub, name string) *domain.Account {
	return repo.seed(&domain.Account{
		Email:    name + "@example.com",
		FullName: name,
		Role:     domain.RoleClient,
	})
}

func TestIssueSession_SecondLoginInvalidatesFirst(t *testing.T) {
	repo := newMemoryRepoStub()
	sessions := newTestSessionService(repo)
	account := seedClient(repo, "amina")
	ctx := context.Background()

	laptop := "laptop"
	first, err := sessions.IssueSession(ctx, account, &laptop)
	if err != nil {
		t.Fatalf("first IssueSession returned error: %v", err)
	}
	phone := "phone"
	second, err := sessions.IssueSession(ctx, account, &phone)
	if err != nil {
		t.Fatalf("second IssueSession returned error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens for consecutive logins")
	}

	if _, err := sessions.Authenticate(ctx, first); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected first token to be rejected with ErrSessionInvalid, got %v", err)
	}
	principal, err := sessions.Authenticate(ctx, second)
	if err != nil {
		t.Fatalf("expected second token to authenticate, got %v", err)
	}
	if principal.AccountID != account.ID || principal.Role != domain.RoleClient {
		t.Fatalf("unexpected principal %+v", principal)
	}

	stored, _ := repo.FindAccountByID(ctx, account.ID)
	if !stored.IsLoggedIn || stored.LastLoginAt == nil {
		t.Fatalf("expected session fields to be stamped, got %+v", stored)
	}
	if stored.LoginDeviceInfo == nil || *stored.LoginDeviceInfo != "phone" {
		t.Fatalf("expected device info of the latest login, got %v", stored.LoginDeviceInfo)
	}
	if stored.CurrentSessionToken == nil || *stored.CurrentSessionToken == second {
		t.Fatalf("expected the stored session to be a digest, not the raw token")
	}
}

func TestAuthenticate_RejectsBadTokensAsUnauthenticated(t *testing.T) {
	repo := newMemoryRepoStub()
	sessions := newTestSessionService(repo)
	account := seedClient(repo, "yusuf")
	ctx := context.Background()

	valid, err := sessions.IssueSession(ctx, account, nil)
	if err != nil {
		t.Fatalf("IssueSession returned error: %v", err)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: domain.RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("some-other-key"))

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: domain.RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSigningKey))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role:             domain.RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{Subject: account.ID.String()},
	}).SignedString([]byte(testSigningKey))

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{
		Role: domain.RoleClient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "truncated", token: valid[:len(valid)-4]},
		{name: "wrong key", token: forged},
		{name: "expired", token: expired},
		{name: "missing expiry", token: noExpiry},
		{name: "alg none", token: unsigned},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sessions.Authenticate(ctx, tc.token); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestAuthenticate_SessionInvalidCases(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked", func(t *testing.T) {
		repo := newMemoryRepoStub()
		sessions := newTestSessionService(repo)
		account := seedClient(repo, "halima")
		token, _ := sessions.IssueSession(ctx, account, nil)
		if err := sessions.Revoke(ctx, account.ID); err != nil {
			t.Fatalf("Revoke returned error: %v", err)
		}
		if _, err := sessions.Authenticate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid after revoke, got %v", err)
		}
	})

	t.Run("account deleted", func(t *testing.T) {
		repo := newMemoryRepoStub()
		sessions := newTestSessionService(repo)
		account := seedClient(repo, "farah")
		token, _ := sessions.IssueSession(ctx, account, nil)
		_ = repo.DeleteAccount(ctx, account.ID)
		if _, err := sessions.Authenticate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid for a deleted account, got %v", err)
		}
	})

	t.Run("role changed since login", func(t *testing.T) {
		repo := newMemoryRepoStub()
		sessions := newTestSessionService(repo)
		account := seedClient(repo, "abdi")
		token, _ := sessions.IssueSession(ctx, account, nil)
		repo.mu.Lock()
		repo.accounts[account.ID].Role = domain.RoleAdmin
		repo.mu.Unlock()
		if _, err := sessions.Authenticate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("expected ErrSessionInvalid after role change, got %v", err)
		}
	})
}

func TestLogout_OnlyEndsTheCurrentSession(t *testing.T) {
	repo := newMemoryRepoStub()
	sessions := newTestSessionService(repo)
	account := seedClient(repo, "khadija")
	ctx := context.Background()

	stale, _ := sessions.IssueSession(ctx, account, nil)
	current, _ := sessions.IssueSession(ctx, account, nil)

	if err := sessions.Logout(ctx, account.ID, stale); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected stale logout to be rejected, got %v", err)
	}
	if _, err := sessions.Authenticate(ctx, current); err != nil {
		t.Fatalf("stale logout must not end the current session: %v", err)
	}
	if err := sessions.Logout(ctx, account.ID, current); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if _, err := sessions.Authenticate(ctx, current); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid after logout, got %v", err)
	}
}

func TestRevoke_UnknownAccount(t *testing.T) {
	sessions := newTestSessionService(newMemoryRepoStub())
	if err := sessions.Revoke(context.Background(), uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestNewSessionService_DefaultTTL(t *testing.T) {
	sessions := NewSessionService(newMemoryRepoStub(), testSigningKey, -time.Hour)
	if sessions.TTL() != 30*24*time.Hour {
		t.Fatalf("expected 30 day default ttl, got %s", sessions.TTL())
	}
}

func TestTrimDeviceInfo(t *testing.T) {
	tests := []struct {
		name string
		raw  *string
		want *string
	}{
		{name: "nil", raw: nil, want: nil},
		{name: "blank", raw: strPtr("   "), want: nil},
		{name: "plain", raw: strPtr("  Pixel 8 / Android 15 "), want: strPtr("Pixel 8 / Android 15")},
		{name: "invalid bytes dropped", raw: strPtr("Pixel\xff\xfe 8"), want: strPtr("Pixel 8")},
		{name: "nul bytes dropped", raw: strPtr("Pixel\x00 8"), want: strPtr("Pixel 8")},
		{name: "only invalid bytes", raw: strPtr("\xff\xfe"), want: nil},
		{name: "cut before a split rune", raw: strPtr(strings.Repeat("a", maxDeviceInfoBytes-1) + "é"), want: strPtr(strings.Repeat("a", maxDeviceInfoBytes-1))},
		{name: "exact limit kept", raw: strPtr(strings.Repeat("a", maxDeviceInfoBytes-2) + "é"), want: strPtr(strings.Repeat("a", maxDeviceInfoBytes-2) + "é")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := trimDeviceInfo(tc.raw)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %q", *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %q, got nil", *tc.want)
			}
			if *got != *tc.want {
				t.Fatalf("expected %q, got %q", *tc.want, *got)
			}
			if len(*got) > maxDeviceInfoBytes || !utf8.ValidString(*got) {
				t.Fatalf("expected at most %d bytes of valid UTF-8, got len=%d valid=%v", maxDeviceInfoBytes, len(*got), utf8.ValidString(*got))
			}
		})
	}
}

func TestIssueSession_StoresSanitizedDeviceInfo(t *testing.T) {
	repo := newMemoryRepoStub()
	sessions := newTestSessionService(repo)
	account := seedClient(repo, "amina")

	raw := strings.Repeat("a", maxDeviceInfoBytes-1) + "é\xff"
	if _, err := sessions.IssueSession(context.Background(), account, &raw); err != nil {
		t.Fatalf("IssueSession returned error: %v", err)
	}
	stored, err := repo.FindAccountByID(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("FindAccountByID returned error: %v", err)
	}
	if stored.LoginDeviceInfo == nil || !utf8.ValidString(*stored.LoginDeviceInfo) || len(*stored.LoginDeviceInfo) > maxDeviceInfoBytes {
		t.Fatalf("expected bounded valid UTF-8 device info, got %v", stored.LoginDeviceInfo)
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/config"
	"email-auth-service/internal/hashing"
	"email-auth-service/internal/models"
)

func newAuthHarness(t *testing.T) (*AuthService, *fakeIdentityStore, *fakeIssuer) {
	t.Helper()
	ids := newFakeIdentityStore()
	issuer := &fakeIssuer{}
	hasher := hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024, // low-cost params keep the suite fast
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
	svc := NewAuthService(ids, hasher, issuer, nil, zap.NewNop())
	return svc, ids, issuer
}

func TestRegisterCreatesPasswordIdentity(t *testing.T) {
	svc, ids, issuer := newAuthHarness(t)

	res, err := svc.Register(context.Background(), " New@Example.COM ", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if res.Identity.Email != "new@example.com" {
		t.Errorf("identity email = %q, want normalized form", res.Identity.Email)
	}
	if res.Identity.ProvisioningMethod != models.ProvisionedByPassword {
		t.Errorf("provisioning method = %q, want %q", res.Identity.ProvisioningMethod, models.ProvisionedByPassword)
	}
	if res.Token == "" || res.TokenExpiresAt.IsZero() {
		t.Errorf("registration issued no session token")
	}
	if issuer.issued != 1 {
		t.Errorf("issuer calls = %d, want 1", issuer.issued)
	}

	stored := ids.identities["new@example.com"]
	if stored == nil {
		t.Fatalf("identity not stored under normalized email")
	}
	if !stored.HasCredential() {
		t.Errorf("stored identity has no credential hash")
	}
	if stored.CredentialHash == "correct horse battery" {
		t.Errorf("credential stored in the clear")
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc, ids, _ := newAuthHarness(t)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "long enough password"},
		{"malformed email", "not-an-email", "long enough password"},
		{"short password", "ok@example.com", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
	if len(ids.identities) != 0 {
		t.Errorf("invalid input created %d identities", len(ids.identities))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuthHarness(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "taken@example.com", "first password"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "Taken@example.com", "second password"); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("duplicate register error = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	svc, _, issuer := newAuthHarness(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "pat@example.com", "open sesame 123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := svc.Login(ctx, "Pat@Example.com", "open sesame 123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Identity.Email != "pat@example.com" {
		t.Errorf("identity email = %q", res.Identity.Email)
	}
	if res.Token == "" {
		t.Errorf("login issued no token")
	}
	if issuer.issued != 2 {
		t.Errorf("issuer calls = %d, want 2 (register + login)", issuer.issued)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, ids, _ := newAuthHarness(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "real@example.com", "the real password"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	// OTP-provisioned identity with no credential set.
	ids.identities["codeonly@example.com"] = &models.Identity{
		IdentityID:         "id-otp",
		Email:              "codeonly@example.com",
		ProvisioningMethod: models.ProvisionedByOTP,
		CreatedAt:          time.Now().UTC(),
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "ghost@example.com", "whatever password"},
		{"wrong password", "real@example.com", "not the password"},
		{"otp identity without credential", "codeonly@example.com", "any password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

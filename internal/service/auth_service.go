package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-auth-service/internal/audit"
	"email-auth-service/internal/hashing"
	"email-auth-service/internal/models"
	"email-auth-service/internal/repository/scylla"
	"email-auth-service/internal/util"
)

const minPasswordLength = 8

// AuthService handles password-based registration and login. Thin compared
// to the OTP lifecycle: validate, hash or verify, issue a session.
type AuthService struct {
	identityRepo scylla.IdentityRepository
	hasher       *hashing.Hasher
	issuer       TokenIssuer
	recorder     *audit.Recorder
	logger       *zap.Logger
}

func NewAuthService(
	identityRepo scylla.IdentityRepository,
	hasher *hashing.Hasher,
	issuer TokenIssuer,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		identityRepo: identityRepo,
		hasher:       hasher,
		issuer:       issuer,
		recorder:     recorder,
		logger:       logger,
	}
}

// AuthResult is the outcome of a successful register or login.
type AuthResult struct {
	Identity       *models.PublicIdentity `json:"identity"`
	Token          string                 `json:"token"`
	TokenExpiresAt time.Time              `json:"token_expires_at"`
}

// Register creates a password-provisioned identity.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized, err := util.ValidateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	credentialHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credential: %w", err)
	}

	identity := &models.Identity{
		IdentityID:         uuid.New().String(),
		Email:              normalized,
		CredentialHash:     credentialHash,
		ProvisioningMethod: models.ProvisionedByPassword,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.identityRepo.Create(ctx, identity); err != nil {
		if errors.Is(err, scylla.ErrIdentityExists) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	token, tokenExpiresAt, err := s.issuer.Issue(identity.IdentityID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.logger.Info("Identity registered",
		util.String("email", normalized),
		util.String("identity_id", identity.IdentityID))
	s.recorder.Record(models.EventRegister, normalized, identity.IdentityID, "success", "")

	return &AuthResult{
		Identity:       identity.Public(),
		Token:          token,
		TokenExpiresAt: tokenExpiresAt,
	}, nil
}

// Login authenticates an email/password pair. Missing identities,
// OTP-provisioned identities without a credential, and wrong passwords all
// fail identically so the endpoint cannot be used for account enumeration.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized, err := util.ValidateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	identity, err := s.identityRepo.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, scylla.ErrIdentityNotFound) {
			s.recorder.Record(models.EventLogin, normalized, "", "unknown_email", "")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}

	if !identity.HasCredential() {
		s.recorder.Record(models.EventLogin, normalized, identity.IdentityID, "no_credential", "")
		return nil, ErrInvalidCredentials
	}

	match, err := s.hasher.Verify(password, identity.CredentialHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credential: %w", err)
	}
	if !match {
		s.logger.Info("Password login rejected",
			util.String("email", normalized))
		s.recorder.Record(models.EventLogin, normalized, identity.IdentityID, "bad_password", "")
		return nil, ErrInvalidCredentials
	}

	token, tokenExpiresAt, err := s.issuer.Issue(identity.IdentityID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.logger.Info("Password login succeeded",
		util.String("email", normalized),
		util.String("identity_id", identity.IdentityID))
	s.recorder.Record(models.EventLogin, normalized, identity.IdentityID, "success", "")

	return &AuthResult{
		Identity:       identity.Public(),
		Token:          token,
		TokenExpiresAt: tokenExpiresAt,
	}, nil
}

package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"email-auth-service/internal/models"
	"email-auth-service/internal/util"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
)

type identityRepository struct {
	client *ScyllaClient
}

func NewIdentityRepository(client *ScyllaClient) IdentityRepository {
	return &identityRepository{client: client}
}

func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var (
		identity      models.Identity
		lastOtpIssued time.Time
		updatedAt     time.Time
	)

	query := r.client.Prepared.GetIdentityByEmail.WithContext(ctx).Bind(email)

	err := query.Scan(&identity.Email, &identity.IdentityID, &identity.CredentialHash,
		&identity.ProvisioningMethod, &lastOtpIssued, &identity.CreatedAt, &updatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrIdentityNotFound
		}
		util.Error("Failed to get identity by email",
			zap.String("email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get identity by email: %w", err)
	}

	if !lastOtpIssued.IsZero() {
		identity.LastOtpIssuedAt = &lastOtpIssued
	}
	if !updatedAt.IsZero() {
		identity.UpdatedAt = &updatedAt
	}

	return &identity, nil
}

func (r *identityRepository) Create(ctx context.Context, identity *models.Identity) error {
	created, wasCreated, err := r.FindOrCreate(ctx, identity)
	if err != nil {
		return err
	}
	if !wasCreated {
		return fmt.Errorf("%w: %s", ErrIdentityExists, created.Email)
	}
	return nil
}

// FindOrCreate inserts with IF NOT EXISTS so the email-uniqueness invariant
// holds across concurrent instances. When the insert is not applied the
// existing row is returned instead — the caller attaches to it rather than
// duplicating.
func (r *identityRepository) FindOrCreate(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error) {
	var lastOtpIssued, updatedAt time.Time
	if identity.LastOtpIssuedAt != nil {
		lastOtpIssued = *identity.LastOtpIssuedAt
	}
	if identity.UpdatedAt != nil {
		updatedAt = *identity.UpdatedAt
	}

	query := r.client.Prepared.CreateIdentity.WithContext(ctx).Bind(
		identity.Email, identity.IdentityID, identity.CredentialHash,
		identity.ProvisioningMethod, lastOtpIssued, identity.CreatedAt, updatedAt)

	existing := make(map[string]interface{})
	applied, err := query.MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to create identity",
			zap.String("email", identity.Email),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to create identity: %w", err)
	}

	if applied {
		util.Info("Identity created",
			zap.String("email", identity.Email),
			zap.String("identity_id", identity.IdentityID),
			zap.String("provisioning_method", identity.ProvisioningMethod))
		return identity, true, nil
	}

	// Insert lost the race or the row predates us; read the winner.
	found, err := r.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, false, fmt.Errorf("identity exists but could not be read back: %w", err)
	}

	util.Debug("Identity already existed",
		zap.String("email", found.Email),
		zap.String("identity_id", found.IdentityID))

	return found, false, nil
}

func (r *identityRepository) TouchOTPIssued(ctx context.Context, email string) error {
	now := time.Now().UTC()

	query := r.client.Prepared.TouchIdentityOTP.WithContext(ctx).Bind(now, now, email)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Warn("Failed to stamp last OTP issuance",
			zap.String("email", email),
			zap.Error(err))
		return fmt.Errorf("failed to stamp last otp issuance: %w", err)
	}

	return nil
}

func (r *identityRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

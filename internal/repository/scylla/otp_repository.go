package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/models"
	"email-auth-service/internal/util"
)

// ErrNoActiveOTP is returned when no unused, unexpired record exists for a requester.
var ErrNoActiveOTP = errors.New("no active otp record")

type otpRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) OTPRepository {
	return &otpRepository{client: client}
}

func (r *otpRepository) Create(ctx context.Context, rec *models.OtpRecord) error {
	query := r.client.Prepared.CreateOTP.WithContext(ctx).Bind(
		rec.Requester, rec.IssuedAt, rec.OtpID, rec.Code,
		rec.ExpiresAt, rec.Attempts, rec.Used)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create OTP record",
			zap.String("requester", rec.Requester),
			zap.String("otp_id", rec.OtpID),
			zap.Error(err))
		return fmt.Errorf("failed to create otp record: %w", err)
	}

	util.Debug("OTP record created",
		zap.String("requester", rec.Requester),
		zap.String("otp_id", rec.OtpID),
		zap.Time("expires_at", rec.ExpiresAt))

	return nil
}

// FindActive scans the newest records for the requester (clustering order is
// issued_at DESC) and returns the first one that is unused and unexpired.
// Expiry is detected here, lazily, at query time.
func (r *otpRepository) FindActive(ctx context.Context, requester string) (*models.OtpRecord, error) {
	now := time.Now().UTC()

	iter := r.client.Prepared.RecentOTPs.WithContext(ctx).Bind(requester).Iter()
	defer iter.Close()

	var rec models.OtpRecord
	for iter.Scan(&rec.Requester, &rec.IssuedAt, &rec.OtpID, &rec.Code,
		&rec.ExpiresAt, &rec.Attempts, &rec.Used) {
		if rec.IsActive(now) {
			found := rec
			if err := iter.Close(); err != nil {
				return nil, fmt.Errorf("failed to scan otp records: %w", err)
			}
			return &found, nil
		}
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to scan otp records",
			zap.String("requester", requester),
			zap.Error(err))
		return nil, fmt.Errorf("failed to scan otp records: %w", err)
	}

	return nil, ErrNoActiveOTP
}

// IncrementAttempts writes attempts+1 back to the row. Two racing verifies
// can both read the same base value; the net effect only over-counts, which
// never grants extra attempts.
func (r *otpRepository) IncrementAttempts(ctx context.Context, rec *models.OtpRecord) (int, error) {
	next := rec.Attempts + 1

	query := r.client.Prepared.UpdateOTPAttempts.WithContext(ctx).Bind(
		next, rec.Requester, rec.IssuedAt, rec.OtpID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("requester", rec.Requester),
			zap.String("otp_id", rec.OtpID),
			zap.Error(err))
		return rec.Attempts, fmt.Errorf("failed to increment otp attempts: %w", err)
	}

	rec.Attempts = next

	util.Debug("OTP attempts incremented",
		zap.String("requester", rec.Requester),
		zap.String("otp_id", rec.OtpID),
		zap.Int("attempts", next))

	return next, nil
}

func (r *otpRepository) MarkUsed(ctx context.Context, rec *models.OtpRecord) error {
	query := r.client.Prepared.MarkOTPUsed.WithContext(ctx).Bind(
		rec.Requester, rec.IssuedAt, rec.OtpID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to mark OTP used",
			zap.String("requester", rec.Requester),
			zap.String("otp_id", rec.OtpID),
			zap.Error(err))
		return fmt.Errorf("failed to mark otp used: %w", err)
	}

	rec.Used = true

	util.Info("OTP marked used",
		zap.String("requester", rec.Requester),
		zap.String("otp_id", rec.OtpID))

	return nil
}

func (r *otpRepository) Delete(ctx context.Context, rec *models.OtpRecord) error {
	query := r.client.Prepared.DeleteOTP.WithContext(ctx).Bind(
		rec.Requester, rec.IssuedAt, rec.OtpID)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete OTP record",
			zap.String("requester", rec.Requester),
			zap.String("otp_id", rec.OtpID),
			zap.Error(err))
		return fmt.Errorf("failed to delete otp record: %w", err)
	}

	return nil
}

// DeleteExpired walks the requester's recent records and hard-deletes the
// expired ones. Rows cannot be deleted by a non-key predicate, so this is a
// read-then-delete pass.
func (r *otpRepository) DeleteExpired(ctx context.Context, requester string) (int, error) {
	now := time.Now().UTC()

	iter := r.client.Prepared.RecentOTPs.WithContext(ctx).Bind(requester).Iter()

	var expired []models.OtpRecord
	var rec models.OtpRecord
	for iter.Scan(&rec.Requester, &rec.IssuedAt, &rec.OtpID, &rec.Code,
		&rec.ExpiresAt, &rec.Attempts, &rec.Used) {
		if rec.IsExpired(now) {
			expired = append(expired, rec)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan otp records for cleanup: %w", err)
	}

	deleted := 0
	for i := range expired {
		if err := r.Delete(ctx, &expired[i]); err != nil {
			util.Warn("Failed to delete expired OTP record",
				zap.String("requester", requester),
				zap.String("otp_id", expired[i].OtpID),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		util.Debug("Expired OTP records removed",
			zap.String("requester", requester),
			zap.Int("deleted", deleted))
	}

	return deleted, nil
}

func (r *otpRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}

package models

import "time"

// Provisioning methods. Set once at creation and never changed, even if an
// OTP-provisioned identity later sets a credential.
const (
	ProvisionedByPassword = "password"
	ProvisionedByOTP      = "otp"
)

// Identity is a user record keyed by normalized email.
type Identity struct {
	IdentityID         string     `db:"identity_id"`
	Email              string     `db:"email"`
	CredentialHash     string     `db:"credential_hash"`
	ProvisioningMethod string     `db:"provisioning_method"`
	LastOtpIssuedAt    *time.Time `db:"last_otp_issued_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          *time.Time `db:"updated_at"`
}

// PublicIdentity is the caller-facing projection of an Identity. The
// credential hash never leaves the service.
type PublicIdentity struct {
	IdentityID         string     `json:"identity_id"`
	Email              string     `json:"email"`
	ProvisioningMethod string     `json:"provisioning_method"`
	LastOtpIssuedAt    *time.Time `json:"last_otp_issued_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Public returns the identity without credential material.
func (i *Identity) Public() *PublicIdentity {
	return &PublicIdentity{
		IdentityID:         i.IdentityID,
		Email:              i.Email,
		ProvisioningMethod: i.ProvisioningMethod,
		LastOtpIssuedAt:    i.LastOtpIssuedAt,
		CreatedAt:          i.CreatedAt,
	}
}

// HasCredential reports whether the identity can log in with a password.
func (i *Identity) HasCredential() bool {
	return i.CredentialHash != ""
}

package service

import (
	"go.uber.org/zap"

	"email-auth-service/internal/audit"
	"email-auth-service/internal/config"
	"email-auth-service/internal/delivery"
	"email-auth-service/internal/hashing"
	"email-auth-service/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	otpRepo      scylla.OTPRepository
	identityRepo scylla.IdentityRepository
	limiter      RateLimiter
	gateway      delivery.Gateway
	issuer       TokenIssuer
	hasher       *hashing.Hasher
	recorder     *audit.Recorder
	otpCfg       config.OTPConfig
	logger       *zap.Logger

	otpService  *OTPService
	authService *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	otpRepo scylla.OTPRepository,
	identityRepo scylla.IdentityRepository,
	limiter RateLimiter,
	gateway delivery.Gateway,
	issuer TokenIssuer,
	hasher *hashing.Hasher,
	recorder *audit.Recorder,
	otpCfg config.OTPConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		otpRepo:      otpRepo,
		identityRepo: identityRepo,
		limiter:      limiter,
		gateway:      gateway,
		issuer:       issuer,
		hasher:       hasher,
		recorder:     recorder,
		otpCfg:       otpCfg,
		logger:       logger,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(
			f.otpRepo,
			f.identityRepo,
			f.limiter,
			f.gateway,
			f.issuer,
			f.recorder,
			f.otpCfg,
			f.logger,
		)
	}
	return f.otpService
}

// AuthService returns the password auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.identityRepo,
			f.hasher,
			f.issuer,
			f.recorder,
			f.logger,
		)
	}
	return f.authService
}

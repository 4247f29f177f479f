package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Delivery:    DeliveryConfig{Provider: "log"},
		SMTP:        SMTPConfig{Host: "localhost"},
		JWT:         JWTConfig{Secret: "dev-only-secret-change-me", TTL: time.Hour},
		OTP: OTPConfig{
			CodeLength:           6,
			TTL:                  10 * time.Minute,
			MaxAttempts:          5,
			RateLimitWindow:      15 * time.Minute,
			MaxRequestsPerWindow: 3,
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  64 * 1024,
			Argon2TimeCost:    3,
			Argon2Parallelism: 2,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:   "smtp provider with host",
			mutate: func(c *Config) { c.Delivery.Provider = "smtp" },
		},
		{
			name:    "unknown delivery provider",
			mutate:  func(c *Config) { c.Delivery.Provider = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name: "smtp provider without host",
			mutate: func(c *Config) {
				c.Delivery.Provider = "smtp"
				c.SMTP.Host = ""
			},
			wantErr: true,
		},
		{
			name: "dev secret in production",
			mutate: func(c *Config) {
				c.Environment = "production"
			},
			wantErr: true,
		},
		{
			name: "real secret in production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.JWT.Secret = "an-actual-secret"
			},
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.OTP.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "zero requests per window",
			mutate:  func(c *Config) { c.OTP.MaxRequestsPerWindow = 0 },
			wantErr: true,
		},
		{
			name:    "code length too short",
			mutate:  func(c *Config) { c.OTP.CodeLength = 3 },
			wantErr: true,
		},
		{
			name:    "code length too long",
			mutate:  func(c *Config) { c.OTP.CodeLength = 11 },
			wantErr: true,
		},
		{
			name:   "code length at upper bound",
			mutate: func(c *Config) { c.OTP.CodeLength = 10 },
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.Hashing.Argon2Parallelism = 0 },
			wantErr: true,
		},
		{
			name:    "parallelism above uint8 range",
			mutate:  func(c *Config) { c.Hashing.Argon2Parallelism = 256 },
			wantErr: true,
		},
		{
			name:   "parallelism at uint8 limit",
			mutate: func(c *Config) { c.Hashing.Argon2Parallelism = 255 },
		},
		{
			name:    "zero memory cost",
			mutate:  func(c *Config) { c.Hashing.Argon2MemoryCost = 0 },
			wantErr: true,
		},
		{
			name:    "zero time cost",
			mutate:  func(c *Config) { c.Hashing.Argon2TimeCost = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

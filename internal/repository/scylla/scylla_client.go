package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"email-auth-service/internal/config"
	"email-auth-service/internal/util"
)

// PreparedStatements holds the statements used by the OTP and identity repositories.
//
// Schema:
//
//	CREATE TABLE otp_codes (
//	    requester text, issued_at timestamp, otp_id uuid,
//	    code text, expires_at timestamp, attempts int, used boolean,
//	    PRIMARY KEY ((requester), issued_at, otp_id)
//	) WITH CLUSTERING ORDER BY (issued_at DESC, otp_id ASC);
//
//	CREATE TABLE identities (
//	    email text PRIMARY KEY, identity_id uuid,
//	    credential_hash text, provisioning_method text,
//	    last_otp_issued_at timestamp, created_at timestamp, updated_at timestamp
//	);
type PreparedStatements struct {
	CreateOTP          *gocql.Query
	RecentOTPs         *gocql.Query
	UpdateOTPAttempts  *gocql.Query
	MarkOTPUsed        *gocql.Query
	DeleteOTP          *gocql.Query
	CreateIdentity     *gocql.Query
	GetIdentityByEmail *gocql.Query
	TouchIdentityOTP   *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_TLS_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_TLS_CERT_FILE", "/app/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_TLS_KEY_FILE", "/app/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateOTP = s.Session.Query(`
        INSERT INTO otp_codes (requester, issued_at, otp_id, code, expires_at, attempts, used)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)

	// Clustering order is issued_at DESC, so the newest records come first.
	// The limit bounds the scan; anything older is either expired or already
	// superseded for candidate-selection purposes.
	prepared.RecentOTPs = s.Session.Query(`
        SELECT requester, issued_at, otp_id, code, expires_at, attempts, used
        FROM otp_codes WHERE requester = ? LIMIT 20`)

	prepared.UpdateOTPAttempts = s.Session.Query(`
        UPDATE otp_codes SET attempts = ?
        WHERE requester = ? AND issued_at = ? AND otp_id = ?`)

	prepared.MarkOTPUsed = s.Session.Query(`
        UPDATE otp_codes SET used = true
        WHERE requester = ? AND issued_at = ? AND otp_id = ?`)

	prepared.DeleteOTP = s.Session.Query(`
        DELETE FROM otp_codes
        WHERE requester = ? AND issued_at = ? AND otp_id = ?`)

	// LWT insert enforces the one-identity-per-email invariant at the store.
	prepared.CreateIdentity = s.Session.Query(`
        INSERT INTO identities (email, identity_id, credential_hash, provisioning_method,
            last_otp_issued_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetIdentityByEmail = s.Session.Query(`
        SELECT email, identity_id, credential_hash, provisioning_method,
            last_otp_issued_at, created_at, updated_at
        FROM identities WHERE email = ?`)

	prepared.TouchIdentityOTP = s.Session.Query(`
        UPDATE identities SET last_otp_issued_at = ?, updated_at = ?
        WHERE email = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"email-auth-service/internal/service"
	"email-auth-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AuthHandler handles HTTP requests for authentication operations
type AuthHandler struct {
	otpService  *service.OTPService
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(otpService *service.OTPService, authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		otpService:  otpService,
		authService: authService,
		logger:      logger,
	}
}

// errInternal is what callers see in place of infrastructure error detail.
// The real error stays in the logs.
var errInternal = errors.New("internal error")

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type emailRequest struct {
	Email string `json:"email"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Route("/otp", func(r chi.Router) {
			r.Post("/request", h.RequestOTP)
			r.Post("/verify", h.VerifyOTP)
			r.Get("/status", h.GetOTPStatus)
		})
	})
}

// Register handles password registration
// @Summary Register with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.Register(ctx, req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Registered successfully"))
	h.logger.Info("Registration via HTTP",
		util.String("identity_id", result.Identity.IdentityID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// Login handles password login
// @Summary Log in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Logged in successfully"))
	h.logger.Info("Login via HTTP",
		util.String("identity_id", result.Identity.IdentityID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// RequestOTP handles code issuance
// @Summary Request a one-time login code
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 502 {object} Response
// @Router /auth/otp/request [post]
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.otpService.RequestOTP(ctx, req.Email)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to send code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Code sent"))
	h.logger.Info("OTP requested via HTTP",
		util.String("requester", result.Requester),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestOTP"),
	)
}

// VerifyOTP handles code verification
// @Summary Verify a one-time login code
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 423 {object} Response
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.otpService.VerifyOTP(ctx, req.Email, req.Code)
	if err != nil {
		// A rejected code reports how many attempts remain on the record.
		var remaining *service.RemainingAttemptsError
		if errors.As(err, &remaining) {
			resp := errorResponse(service.ErrInvalidOrExpiredOTP, "Verification failed")
			resp.Data = map[string]int{"remaining_attempts": remaining.Remaining}
			h.respondWithJSON(w, http.StatusUnauthorized, resp)
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Verified successfully"))
	h.logger.Info("OTP verified via HTTP",
		util.String("identity_id", result.Identity.IdentityID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyOTP"),
	)
}

// GetOTPStatus handles read-only status queries
// @Summary Get the OTP status for a requester
// @Tags auth
// @Produce json
// @Param email query string true "Requester email"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /auth/otp/status [get]
func (h *AuthHandler) GetOTPStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("email")
	if email == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("email is required"), "Email is required")
		return
	}

	status, err := h.otpService.GetOTPStatus(ctx, email)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(status, "Status retrieved"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	// Domain errors are safe to echo. Infrastructure failures are not:
	// backend detail such as driver or host strings stays out of responses.
	if statusCode == http.StatusInternalServerError {
		err = errInternal
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrOTPBlocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrInvalidOrExpiredOTP), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailAlreadyRegistered), errors.Is(err, service.ErrIdentityConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/httperr"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/metrics"
	"github.com/iudanet/authgate/internal/server/tokens"
	"github.com/iudanet/authgate/internal/validation"
	"github.com/iudanet/authgate/pkg/api"
)

// maxBodySize ограничение размера тела запроса
const maxBodySize = 1 << 20

// AccessIssuer выпускает и проверяет access tokens
type AccessIssuer interface {
	tokens.Verifier
	IssueAccessToken(userID string) (string, int64, error)
}

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger      *slog.Logger
	credentials *credentials.Store
	ledger      *ledger.Ledger
	issuer      AccessIssuer
	metrics     metrics.Recorder
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, creds *credentials.Store, l *ledger.Ledger, issuer AccessIssuer, rec metrics.Recorder) *AuthHandler {
	return &AuthHandler{
		logger:      logger,
		credentials: creds,
		ledger:      l,
		issuer:      issuer,
		metrics:     rec,
	}
}

// Register обрабатывает POST /api/v1/auth/register
// Создает учетную запись и сразу открывает первую сессию
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	user, err := h.credentials.Create(ctx, credentials.NewIdentity{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Timezone:    req.Timezone,
	})
	if err != nil {
		if !errors.Is(err, credentials.ErrEmailTaken) {
			h.logger.WarnContext(ctx, "registration rejected", slog.Any("error", err))
		}
		httperr.Write(w, r, h.logger, err)
		return
	}

	resp, err := h.openSession(r, user, req.DeviceID)
	if err != nil {
		// аккаунт без первой сессии не сохраняется
		if delErr := h.credentials.Delete(ctx, user.ID); delErr != nil {
			h.logger.ErrorContext(ctx, "failed to roll back user after session error",
				slog.String("user_id", user.ID),
				slog.Any("error", delErr))
		}
		httperr.Write(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "user registered successfully",
		slog.String("user_id", user.ID))

	httperr.WriteJSON(w, h.logger, resp, http.StatusCreated)
}

// Login обрабатывает POST /api/v1/auth/login
// Проверяет пароль и выдает пару токенов для устройства
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	if req.Email == "" || req.Password == "" {
		httperr.Write(w, r, h.logger, fmt.Errorf("%w: email and password are required", httperr.ErrBadRequest))
		return
	}

	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	user, err := h.credentials.Verify(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			h.logger.WarnContext(ctx, "login failed: invalid credentials")
			h.metrics.RecordAuthFailure(httperr.CodeInvalidCredentials)
		}
		httperr.Write(w, r, h.logger, err)
		return
	}

	resp, err := h.openSession(r, user, req.DeviceID)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "user logged in successfully",
		slog.String("user_id", user.ID),
		slog.String("device_id", req.DeviceID))

	httperr.WriteJSON(w, h.logger, resp, http.StatusOK)
}

// Refresh обрабатывает POST /api/v1/auth/refresh
// Обменивает refresh token на новый access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	if req.RefreshToken == "" {
		httperr.Write(w, r, h.logger, fmt.Errorf("%w: refreshToken is required", httperr.ErrBadRequest))
		return
	}

	result, err := h.ledger.ValidateAndRotate(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			h.metrics.RecordRefresh(metrics.RefreshNotFound)
			h.logger.WarnContext(ctx, "refresh token not found")
		case errors.Is(err, ledger.ErrRevokedOrExpired):
			h.metrics.RecordRefresh(metrics.RefreshRejected)
			h.logger.WarnContext(ctx, "refresh token revoked or expired")
		}
		httperr.Write(w, r, h.logger, err)
		return
	}

	accessToken, expiresIn, err := h.issuer.IssueAccessToken(result.UserID)
	if err != nil {
		httperr.Write(w, r, h.logger, fmt.Errorf("failed to issue access token: %w", err))
		return
	}
	h.metrics.RecordTokenIssued(metrics.TokenAccess)

	if result.RefreshToken != "" {
		h.metrics.RecordRefresh(metrics.RefreshRotated)
		h.metrics.RecordTokenIssued(metrics.TokenRefresh)
	} else {
		h.metrics.RecordRefresh(metrics.RefreshReused)
	}

	h.logger.InfoContext(ctx, "access token refreshed",
		slog.String("user_id", result.UserID),
		slog.Bool("rotated", result.RefreshToken != ""))

	resp := api.RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    expiresIn,
	}

	httperr.WriteJSON(w, h.logger, resp, http.StatusOK)
}

// Logout обрабатывает POST /api/v1/auth/logout
// allDevices=true отзывает все сессии пользователя и требует access token,
// иначе отзывается сессия, соответствующая переданному refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LogoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	if req.AllDevices {
		userID, err := VerifyBearer(r, h.issuer)
		if err != nil {
			h.metrics.RecordAuthFailure(httperr.Classify(err).Code)
			httperr.Write(w, r, h.logger, err)
			return
		}

		revoked, err := h.ledger.RevokeAllForUser(ctx, userID)
		if err != nil {
			httperr.Write(w, r, h.logger, err)
			return
		}

		h.logger.InfoContext(ctx, "user logged out from all devices",
			slog.String("user_id", userID),
			slog.Int("sessions_revoked", revoked))

		w.WriteHeader(http.StatusNoContent)
		return
	}

	if req.RefreshToken == "" {
		httperr.Write(w, r, h.logger, fmt.Errorf("%w: refreshToken is required", httperr.ErrBadRequest))
		return
	}

	// Выход идемпотентен: неизвестный секрет не раскрывается клиенту
	if err := h.ledger.Revoke(ctx, req.RefreshToken); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		httperr.Write(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "user logged out from device")

	w.WriteHeader(http.StatusNoContent)
}

// openSession выдает access token и новую запись refresh token
func (h *AuthHandler) openSession(r *http.Request, user *models.User, deviceID string) (*api.AuthResponse, error) {
	accessToken, expiresIn, err := h.issuer.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, _, err := h.ledger.Issue(r.Context(), user.ID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	h.metrics.RecordTokenIssued(metrics.TokenAccess)
	h.metrics.RecordTokenIssued(metrics.TokenRefresh)

	return &api.AuthResponse{
		User:         toUserResponse(user),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}

// decodeJSON разбирает тело запроса, неизвестные поля допускаются
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", httperr.ErrBadRequest)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", httperr.ErrBadRequest)
	}

	return nil
}

func toUserResponse(user *models.User) api.UserResponse {
	return api.UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Timezone:    user.Timezone,
		CreatedAt:   user.CreatedAt,
		LastLogin:   user.LastLogin,
	}
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/httperr"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/tokens"
	"github.com/iudanet/authgate/pkg/api"
)

// AccountHandler обслуживает защищенные маршруты текущего пользователя
type AccountHandler struct {
	logger      *slog.Logger
	credentials *credentials.Store
	ledger      *ledger.Ledger
}

// NewAccountHandler создает AccountHandler
func NewAccountHandler(logger *slog.Logger, creds *credentials.Store, l *ledger.Ledger) *AccountHandler {
	return &AccountHandler{
		logger:      logger,
		credentials: creds,
		ledger:      l,
	}
}

// Me обрабатывает GET /api/v1/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		httperr.Write(w, r, h.logger, tokens.ErrMissingToken)
		return
	}

	user, err := h.credentials.Get(r.Context(), userID)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	httperr.WriteJSON(w, h.logger, toUserResponse(user), http.StatusOK)
}

// Sessions обрабатывает GET /api/v1/sessions
// Возвращает действующие сессии пользователя
func (h *AccountHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		httperr.Write(w, r, h.logger, tokens.ErrMissingToken)
		return
	}

	sessions, err := h.ledger.Sessions(r.Context(), userID)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	resp := api.SessionsResponse{Sessions: make([]api.SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, api.SessionResponse{
			ID:         s.ID,
			DeviceID:   s.DeviceID,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}

	httperr.WriteJSON(w, h.logger, resp, http.StatusOK)
}

// RevokeSession обрабатывает DELETE /api/v1/sessions/{id}
// Отзывает одну сессию (выход с устройства)
func (h *AccountHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		httperr.Write(w, r, h.logger, tokens.ErrMissingToken)
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		httperr.Write(w, r, h.logger, httperr.ErrNotFound)
		return
	}

	// Чужая сессия неотличима от несуществующей
	if err := h.ledger.RevokeSession(ctx, userID, sessionID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			err = httperr.ErrNotFound
		}
		httperr.Write(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID))

	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount обрабатывает DELETE /api/v1/account
// Отзывает все сессии и удаляет учетную запись
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		httperr.Write(w, r, h.logger, tokens.ErrMissingToken)
		return
	}

	revoked, err := h.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	if err := h.credentials.Delete(ctx, userID); err != nil {
		httperr.Write(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(ctx, "account deleted",
		slog.String("user_id", userID),
		slog.Int("sessions_revoked", revoked))

	w.WriteHeader(http.StatusNoContent)
}

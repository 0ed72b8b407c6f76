package httpapi

import (
	"errors"
	"net/http"
	"time"

	"authgate.org/internal/identity"
	"authgate.org/internal/session"
	"authgate.org/internal/token"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

type tokenPairResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairResponse(pair token.Pair) tokenPairResponse {
	return tokenPairResponse{
		SessionID:        pair.SessionID,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	pair, err := a.sessions.Login(r.Context(), req.Username, req.Password, session.Device{
		ID:       req.DeviceID,
		Name:     req.DeviceName,
		Platform: req.Platform,
	})
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			respondUnauthorized(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			respondUnauthorized(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity.AuthContextFrom(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}
	if err := a.sessions.Logout(r.Context(), ac.SubjectID, ac.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity.AuthContextFrom(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}
	if err := a.sessions.LogoutAll(r.Context(), ac.SubjectID); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity.AuthContextFrom(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "old and new passwords are required")
		return
	}
	if err := a.sessions.ChangePassword(r.Context(), ac.SubjectID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			respondUnauthorized(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type sessionResponse struct {
	SessionID     string     `json:"session_id"`
	DeviceID      string     `json:"device_id,omitempty"`
	DeviceName    string     `json:"device_name,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	Current       bool       `json:"current"`
	RefreshCount  int        `json:"refresh_count"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity.AuthContextFrom(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}
	sessions, err := a.sessions.Sessions(r.Context(), ac.SubjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session listing failed")
		return
	}
	res := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		res = append(res, sessionResponse{
			SessionID:     s.JTI,
			DeviceID:      s.DeviceID,
			DeviceName:    s.DeviceName,
			Platform:      s.Platform,
			Current:       s.JTI == ac.SessionID,
			RefreshCount:  s.RefreshCount,
			ExpiresAt:     s.ExpiresAt,
			RevokedAt:     s.RevokedAt,
			RevokedReason: s.RevokedReason,
			LastSeenAt:    s.LastSeenAt,
			CreatedAt:     s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": res})
}

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"authgate.org/internal/credential"
	"authgate.org/internal/signing"
)

type credentialResponse struct {
	AppID       string     `json:"app_id"`
	KeyID       string     `json:"key_id"`
	Algorithm   string     `json:"algorithm"`
	Encoding    string     `json:"encoding"`
	Status      string     `json:"status"`
	NotBefore   *time.Time `json:"not_before,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AllowIPs    []string   `json:"allow_ips,omitempty"`
	Description string     `json:"description,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP  string     `json:"last_used_ip,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// credentialView never includes the secret, encrypted or otherwise.
func credentialView(c *credential.Credential) credentialResponse {
	return credentialResponse{
		AppID:       c.AppID,
		KeyID:       c.KeyID,
		Algorithm:   string(c.Algorithm),
		Encoding:    string(c.Encoding),
		Status:      string(c.Status),
		NotBefore:   c.NotBefore,
		ExpiresAt:   c.ExpiresAt,
		AllowIPs:    c.AllowIPs,
		Description: c.Description,
		LastUsedAt:  c.LastUsedAt,
		LastUsedIP:  c.LastUsedIP,
		CreatedAt:   c.CreatedAt,
	}
}

type credentialCreateRequest struct {
	AppID       string     `json:"app_id"`
	KeyID       string     `json:"key_id,omitempty"`
	Secret      string     `json:"secret"`
	Algorithm   string     `json:"algorithm,omitempty"`
	Encoding    string     `json:"encoding,omitempty"`
	NotBefore   *time.Time `json:"not_before,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AllowIPs    []string   `json:"allow_ips,omitempty"`
	Description string     `json:"description,omitempty"`
}

func (a *API) handleCredentialCreate(w http.ResponseWriter, r *http.Request) {
	var req credentialCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := a.credentials.Create(r.Context(), credential.CreateParams{
		AppID:       req.AppID,
		KeyID:       req.KeyID,
		Secret:      req.Secret,
		Algorithm:   signing.Algorithm(req.Algorithm),
		Encoding:    signing.Encoding(req.Encoding),
		NotBefore:   req.NotBefore,
		ExpiresAt:   req.ExpiresAt,
		AllowIPs:    req.AllowIPs,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, credential.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "credential already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, credentialView(cred))
}

func (a *API) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	appID := r.PathValue("app")
	creds, err := a.credentials.List(r.Context(), appID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "credential listing failed")
		return
	}
	res := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		res = append(res, credentialView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": res})
}

type credentialUpdateRequest struct {
	Status      string     `json:"status,omitempty"`
	NotBefore   *time.Time `json:"not_before,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	AllowIPs    []string   `json:"allow_ips,omitempty"`
	Description string     `json:"description,omitempty"`
}

func (a *API) handleCredentialUpdate(w http.ResponseWriter, r *http.Request) {
	var req credentialUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := a.credentials.Update(r.Context(), r.PathValue("app"), r.PathValue("kid"), credential.Meta{
		Status:      credential.Status(req.Status),
		NotBefore:   req.NotBefore,
		ExpiresAt:   req.ExpiresAt,
		AllowIPs:    req.AllowIPs,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		if errors.Is(err, credential.ErrRevoked) {
			writeError(w, http.StatusConflict, "credential revoked")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type credentialRevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleCredentialRevoke(w http.ResponseWriter, r *http.Request) {
	var req credentialRevokeRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	err := a.credentials.Revoke(r.Context(), r.PathValue("app"), r.PathValue("kid"), req.Reason)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "credential revocation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type credentialRotateRequest struct {
	NewKeyID  string `json:"new_key_id"`
	NewSecret string `json:"new_secret"`
	Algorithm string `json:"algorithm,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	RevokeOld bool   `json:"revoke_old,omitempty"`
	OldKeyID  string `json:"old_key_id,omitempty"`
}

func (a *API) handleCredentialRotate(w http.ResponseWriter, r *http.Request) {
	var req credentialRotateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cred, err := a.credentials.Rotate(r.Context(), credential.RotateParams{
		AppID:     r.PathValue("app"),
		NewKeyID:  req.NewKeyID,
		NewSecret: req.NewSecret,
		Algorithm: signing.Algorithm(req.Algorithm),
		Encoding:  signing.Encoding(req.Encoding),
		RevokeOld: req.RevokeOld,
		OldKeyID:  req.OldKeyID,
	})
	if err != nil {
		if errors.Is(err, credential.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "credential already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, credentialView(cred))
}

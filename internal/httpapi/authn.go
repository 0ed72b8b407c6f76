package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"authgate.org/internal/identity"
	"authgate.org/internal/session"
	"authgate.org/internal/signing"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// Signature header names are a wire contract; do not rename.
	headerAppID     = "x-app-id"
	headerKeyID     = "x-kid"
	headerTimestamp = "x-ts"
	headerNonce     = "x-nonce"
	headerSignature = "x-signature"
)

// requireBearer validates the access token and threads the resolved
// identity through the context.
func (a *API) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondUnauthorized(w)
			return
		}
		ac, err := a.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrUnauthorized) {
				respondUnauthorized(w)
				return
			}
			writeError(w, http.StatusInternalServerError, "authentication error")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithAuthContext(r.Context(), ac)))
	}
}

// requireRole gates a handler on a role claimed by the authenticated
// subject.
func (a *API) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := identity.AuthContextFrom(r.Context())
		if !ok {
			respondUnauthorized(w)
			return
		}
		if !ac.HasRole(role) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// requireSignature gates machine-to-machine routes on a valid request
// signature. The body is consumed to compute the digest and restored for
// the handler.
func (a *API) requireSignature(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bodyHash string
		if r.Body != nil && r.Body != http.NoBody {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			bodyHash = signing.BodyDigest(body)
		}

		ts, _ := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerTimestamp)), 10, 64)
		req := signing.Request{
			AppID:     strings.TrimSpace(r.Header.Get(headerAppID)),
			KeyID:     strings.TrimSpace(r.Header.Get(headerKeyID)),
			Method:    r.Method,
			Path:      r.URL.Path,
			Timestamp: ts,
			Nonce:     strings.TrimSpace(r.Header.Get(headerNonce)),
			Signature: strings.TrimSpace(r.Header.Get(headerSignature)),
			BodyHash:  bodyHash,
			IP:        clientIP(r),
		}
		if err := a.verifier.Verify(r.Context(), req); err != nil {
			respondUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

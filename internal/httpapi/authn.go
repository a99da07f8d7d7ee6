package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustcenter.dev/internal/auth"
	"trustcenter.dev/internal/trust"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// admin wraps h so it only runs for an authenticated, active admin holding
// at least role need.
func (a *API) admin(need trust.AdminRole, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="trustcenter"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		admin, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, trust.ErrUnauthorized) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="trustcenter", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if err := auth.Require(admin, need); err != nil {
			handleTrustError(w, r, err)
			return
		}
		h(w, r.WithContext(auth.ContextWithAdmin(r.Context(), admin)))
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

// adminID returns the authenticated admin's id; empty on public routes.
func adminID(r *http.Request) string {
	id, _ := auth.AdminIDFromContext(r.Context())
	return id
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]struct{}{
	"/":                        {},
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/v1/info":                 {},
	"/v1/auth/signup":          {},
	"/v1/auth/login":           {},
	"/v1/auth/forgot-password": {},
	"/v1/auth/reset-password":  {},
	"/v1/auth/setup-password":  {},
	"/v1/auth/verify-email":    {},
}

// withAuth authenticates every non-public request. The session token proves
// who the caller is; the user row is re-read so disabling an account revokes
// access immediately, outstanding tokens notwithstanding.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := a.directory.GetUser(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, http.StatusInternalServerError, "authentication error")
			return
		}
		if user.Status != directory.UserStatusEnabled {
			writeError(w, http.StatusUnauthorized, "account is not active")
			return
		}

		// Claims reflect the row, not the token snapshot, so a role change
		// during the session takes effect on the next request.
		claims.Role = user.Role
		claims.Status = user.Status
		claims.OrganizationID = user.OrganizationID

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}

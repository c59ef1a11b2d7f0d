package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tradejournal.app/internal/auth"
	"tradejournal.app/internal/obs"
)

const (
	authHeader   = "Authorization"
	unlockHeader = "X-Admin-Unlock"
	bearer       = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// optionalAuthPaths accept anonymous callers but still reject bad tokens.
var optionalAuthPaths = []string{
	"/security/assess-connection",
}

// withAuth resolves the bearer token to a subject. Roles are never read from
// the token; handlers ask the role store.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || matchPath(r.URL.Path, publicPaths) {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" && matchPath(r.URL.Path, optionalAuthPaths) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admingate"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		if a.deps.Tokens == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		userID, err := a.deps.Tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				obs.Logger().Error("token verification failed", zap.Error(err))
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="admingate", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), userID)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unlocked reports whether r carries a valid unlock token for userID.
func (a *API) unlocked(r *http.Request, userID string) bool {
	token := strings.TrimSpace(r.Header.Get(unlockHeader))
	if token == "" || a.deps.Tokens == nil {
		return false
	}
	return a.deps.Tokens.VerifyUnlock(token, userID) == nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func matchPath(path string, paths []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

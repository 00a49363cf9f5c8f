package chi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// publicRoutes answer without an API key so probes and scrapers need no secret.
var publicRoutes = []string{"/health", "/metrics"}

var (
	errNoAuthHeader   = errors.New("missing authorization header")
	errNotBearer      = errors.New("authorization header must use Bearer scheme")
	errUnknownAPIKey  = errors.New("invalid api key")
	errEmptyBearerKey = errors.New("empty bearer token")
)

// APIKeyAuth checks "Authorization: Bearer <key>" against the configured
// auth.api_keys. With no keys configured every request passes.
type APIKeyAuth struct {
	keys   [][]byte
	public map[string]bool
}

// NewAPIKeyAuth ignores empty keys.
func NewAPIKeyAuth(apiKeys []string) *APIKeyAuth {
	a := &APIKeyAuth{public: make(map[string]bool, len(publicRoutes))}
	for _, k := range apiKeys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	for _, p := range publicRoutes {
		a.public[p] = true
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool { return len(a.keys) > 0 }

// Middleware rejects unauthenticated requests with 401 unauthorized.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.authorize(r); err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) authorize(r *http.Request) error {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	// Compare against every key so timing does not reveal which one matched.
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare(k, []byte(token))
	}
	if match != 1 {
		return errUnknownAPIKey
	}
	return nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNotBearer
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyBearerKey
	}
	return token, nil
}

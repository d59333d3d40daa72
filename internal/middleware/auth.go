package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Qmop1967/Clients-Console-sub001/pkg/apierror"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/response"
)

// SecretSource extracts a presented secret from a request.
type SecretSource func(r *http.Request) string

// FromHeader reads the secret from a header.
func FromHeader(name string) SecretSource {
	return func(r *http.Request) string { return r.Header.Get(name) }
}

// FromQuery reads the secret from a query parameter.
func FromQuery(name string) SecretSource {
	return func(r *http.Request) string { return r.URL.Query().Get(name) }
}

// FromBearer reads an Authorization: Bearer token.
func FromBearer() SecretSource {
	return func(r *http.Request) string {
		auth := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
}

// SecretConfig configures RequireSecret.
type SecretConfig struct {
	Secret string
	// Optional lets every request through when Secret is empty. Otherwise an
	// unconfigured secret disables the endpoint.
	Optional bool
	Sources  []SecretSource
}

// RequireSecret rejects requests whose presented secret, taken from the
// first source that yields one, does not match.
func RequireSecret(cfg SecretConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Secret == "" {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				response.Error(w, apierror.ServiceUnavailable("endpoint secret is not configured"))
				return
			}

			presented := ""
			for _, src := range cfg.Sources {
				if presented = src(r); presented != "" {
					break
				}
			}
			if presented == "" {
				response.Error(w, apierror.Unauthorized(""))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Secret)) != 1 {
				response.Error(w, apierror.Unauthorized("Invalid secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

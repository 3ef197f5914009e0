// Package auth guards the API with the configured authentication
// methods: a locally generated API key, and JWTs verified against a
// remote JWKS either natively or inside a browser page.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/3p3r/puppeteer-command-server/internal/config"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

const (
	CodeNoAuthConfigured   = "NO_AUTH_CONFIGURED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// Authenticator evaluates the enabled credential checks in order: API
// key first, then JWT. One passing check admits the request.
type Authenticator struct {
	secret      string
	apiKey      bool
	jwt         config.JWTSettings
	runner      ScriptRunner
	keys        *jwk.Cache
	verifierURL string
}

// New builds an Authenticator from the loaded settings. ctx owns the
// background JWKS refresher.
func New(ctx context.Context, st *config.Store, runner ScriptRunner) (*Authenticator, error) {
	s := st.Settings()
	return newAuthenticator(ctx, st.Secret(), s, runner)
}

func newAuthenticator(ctx context.Context, secret string, s config.Settings, runner ScriptRunner) (*Authenticator, error) {
	a := &Authenticator{
		secret:      secret,
		apiKey:      s.APIKeyEnabled(),
		jwt:         s.Auth.JWT,
		runner:      runner,
		verifierURL: fmt.Sprintf("http://127.0.0.1:%d/auth/verifier", s.Port),
	}

	if s.JWTEnabled() {
		if s.Auth.JWT.JwksURL == "" {
			return nil, errors.New("jwt auth is enabled but jwksUrl is not set")
		}
		if !s.Auth.JWT.Proxy {
			cache := jwk.NewCache(ctx)
			if err := cache.Register(s.Auth.JWT.JwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
				return nil, fmt.Errorf("register jwks url: %w", err)
			}
			a.keys = cache
		}
	}
	return a, nil
}

// Middleware rejects requests that no enabled method can authenticate.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.apiKey && !a.jwt.Enabled {
			web.Fail(w, http.StatusUnauthorized, CodeNoAuthConfigured, "no authentication methods are configured")
			return
		}
		if a.apiKey && a.checkAPIKey(r) {
			next.ServeHTTP(w, r)
			return
		}
		if a.jwt.Enabled && a.checkJWT(r.Context(), r) {
			next.ServeHTTP(w, r)
			return
		}
		web.Fail(w, http.StatusUnauthorized, CodeInvalidCredentials,
			"invalid credentials (supported: "+strings.Join(a.supported(), ", ")+")")
	})
}

// supported names the enabled methods for the rejection message.
func (a *Authenticator) supported() []string {
	var methods []string
	if a.apiKey {
		methods = append(methods, "api key")
	}
	if a.jwt.Enabled {
		methods = append(methods, "jwt")
	}
	return methods
}

func (a *Authenticator) checkAPIKey(r *http.Request) bool {
	key := r.Header.Get("x-api-key")
	return key != "" && a.secret != "" && key == a.secret
}

func (a *Authenticator) checkJWT(ctx context.Context, r *http.Request) bool {
	raw := bearerToken(r)
	if raw == "" {
		return false
	}

	if a.jwt.Proxy {
		ok, err := a.verifyViaBrowser(ctx, raw)
		if err != nil {
			slog.Warn("browser jwt verification failed", "err", err)
			return false
		}
		return ok
	}

	set, err := a.keys.Get(ctx, a.jwt.JwksURL)
	if err != nil {
		slog.Warn("fetch jwks", "url", a.jwt.JwksURL, "err", err)
		return false
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
	}
	if a.jwt.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.jwt.Issuer))
	}
	if a.jwt.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.jwt.Audience))
	}

	if _, err := jwt.Parse([]byte(raw), opts...); err != nil {
		slog.Debug("jwt rejected", "err", err)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

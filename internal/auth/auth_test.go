package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/3p3r/puppeteer-command-server/internal/config"
)

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func buildAuth(t *testing.T, secret string, s config.Settings, runner ScriptRunner) *Authenticator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := newAuthenticator(ctx, secret, s, runner)
	if err != nil {
		t.Fatalf("newAuthenticator() error = %v", err)
	}
	return a
}

func serveAuthed(t *testing.T, a *Authenticator, mutate func(*http.Request)) (int, envelope) {
	t.Helper()
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tabs/list", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Code != http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode error envelope: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec.Code, env
}

func apiKeyOnlySettings(enabled bool) config.Settings {
	s := config.Settings{Port: 3000}
	s.Auth.APIKey.Enabled = &enabled
	return s
}

type jwksFixture struct {
	signKey jwk.Key
	srv     *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	pub, err := jwk.FromRaw(priv.Public())
	if err != nil {
		t.Fatal(err)
	}
	_ = pub.Set(jwk.KeyIDKey, "test-key")
	_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	signKey, err := jwk.FromRaw(priv)
	if err != nil {
		t.Fatal(err)
	}
	_ = signKey.Set(jwk.KeyIDKey, "test-key")

	return &jwksFixture{signKey: signKey, srv: srv}
}

func (f *jwksFixture) token(t *testing.T, mutate func(b *jwt.Builder)) string {
	t.Helper()

	b := jwt.NewBuilder().
		Issuer("https://issuer.test").
		Audience([]string{"client-1"}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if mutate != nil {
		mutate(b)
	}
	tok, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.signKey))
	if err != nil {
		t.Fatal(err)
	}
	return string(signed)
}

func (f *jwksFixture) settings(apiKeyEnabled bool) config.Settings {
	s := config.Settings{Port: 3000}
	s.Auth.APIKey.Enabled = &apiKeyEnabled
	s.Auth.JWT = config.JWTSettings{
		Enabled:  true,
		Issuer:   "https://issuer.test",
		Audience: "client-1",
		JwksURL:  f.srv.URL,
	}
	return s
}

func TestNoMethodsConfigured(t *testing.T) {
	a := buildAuth(t, "secret", apiKeyOnlySettings(false), nil)

	code, env := serveAuthed(t, a, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if env.Code != CodeNoAuthConfigured {
		t.Errorf("code = %q, want %q", env.Code, CodeNoAuthConfigured)
	}
	if env.Success {
		t.Error("success = true on auth failure")
	}
}

func TestAPIKey(t *testing.T) {
	a := buildAuth(t, "k-secret", apiKeyOnlySettings(true), nil)

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"valid", "k-secret", http.StatusOK},
		{"wrong", "k-wrong", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := serveAuthed(t, a, func(r *http.Request) {
				if tt.key != "" {
					r.Header.Set("x-api-key", tt.key)
				}
			})
			if code != tt.status {
				t.Fatalf("status = %d, want %d", code, tt.status)
			}
			if code == http.StatusUnauthorized && env.Code != CodeInvalidCredentials {
				t.Errorf("code = %q, want %q", env.Code, CodeInvalidCredentials)
			}
		})
	}
}

func TestJWT(t *testing.T) {
	f := newJWKSFixture(t)
	a := buildAuth(t, "unused", f.settings(false), nil)

	otherKey := func(t *testing.T) string {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatal(err)
		}
		key, err := jwk.FromRaw(priv)
		if err != nil {
			t.Fatal(err)
		}
		_ = key.Set(jwk.KeyIDKey, "test-key")
		tok, err := jwt.NewBuilder().
			Issuer("https://issuer.test").
			Audience([]string{"client-1"}).
			Expiration(time.Now().Add(time.Hour)).
			Build()
		if err != nil {
			t.Fatal(err)
		}
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
		if err != nil {
			t.Fatal(err)
		}
		return string(signed)
	}

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", f.token(t, nil), http.StatusOK},
		{"expired", f.token(t, func(b *jwt.Builder) { b.Expiration(time.Now().Add(-time.Hour)) }), http.StatusUnauthorized},
		{"not yet valid", f.token(t, func(b *jwt.Builder) { b.NotBefore(time.Now().Add(time.Hour)) }), http.StatusUnauthorized},
		{"wrong issuer", f.token(t, func(b *jwt.Builder) { b.Issuer("https://evil.test") }), http.StatusUnauthorized},
		{"wrong audience", f.token(t, func(b *jwt.Builder) { b.Audience([]string{"someone-else"}) }), http.StatusUnauthorized},
		{"malformed", "not-a-jwt", http.StatusUnauthorized},
		{"wrong key", otherKey(t), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := serveAuthed(t, a, func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			})
			if code != tt.status {
				t.Fatalf("status = %d, want %d", code, tt.status)
			}
			if code == http.StatusUnauthorized && env.Code != CodeInvalidCredentials {
				t.Errorf("code = %q, want %q", env.Code, CodeInvalidCredentials)
			}
		})
	}
}

func TestMethodOrder(t *testing.T) {
	f := newJWKSFixture(t)
	a := buildAuth(t, "k-secret", f.settings(true), nil)

	code, _ := serveAuthed(t, a, func(r *http.Request) {
		r.Header.Set("x-api-key", "k-secret")
		r.Header.Set("Authorization", "Bearer garbage")
	})
	if code != http.StatusOK {
		t.Errorf("valid api key with bad jwt: status = %d, want 200", code)
	}

	code, _ = serveAuthed(t, a, func(r *http.Request) {
		r.Header.Set("x-api-key", "k-wrong")
		r.Header.Set("Authorization", "Bearer "+f.token(t, nil))
	})
	if code != http.StatusOK {
		t.Errorf("bad api key with valid jwt: status = %d, want 200", code)
	}

	code, env := serveAuthed(t, a, func(r *http.Request) {
		r.Header.Set("x-api-key", "k-wrong")
		r.Header.Set("Authorization", "Bearer garbage")
	})
	if code != http.StatusUnauthorized || env.Code != CodeInvalidCredentials {
		t.Errorf("both invalid: status = %d code = %q", code, env.Code)
	}
	if !strings.Contains(env.Error, "api key") || !strings.Contains(env.Error, "jwt") {
		t.Errorf("rejection %q does not list the supported methods", env.Error)
	}
}

type stubRunner struct {
	result    any
	err       error
	gotURL    string
	gotScript string
}

func (s *stubRunner) RunHiddenScript(ctx context.Context, url, script string) (any, error) {
	s.gotURL = url
	s.gotScript = script
	return s.result, s.err
}

func TestProxyVerification(t *testing.T) {
	settings := config.Settings{Port: 3000}
	disabled := false
	settings.Auth.APIKey.Enabled = &disabled
	settings.Auth.JWT = config.JWTSettings{
		Enabled:  true,
		Proxy:    true,
		Issuer:   "https://issuer.test",
		Audience: "client-1",
		JwksURL:  "https://issuer.test/jwks.json",
	}

	t.Run("accepted", func(t *testing.T) {
		runner := &stubRunner{result: true}
		a := buildAuth(t, "unused", settings, runner)

		code, _ := serveAuthed(t, a, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer some-token")
		})
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if !strings.Contains(runner.gotURL, "/auth/verifier") {
			t.Errorf("verifier url = %q", runner.gotURL)
		}
		if !strings.HasPrefix(runner.gotScript, "verifyToken(") {
			t.Errorf("script = %q", runner.gotScript)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		a := buildAuth(t, "unused", settings, &stubRunner{result: false})
		code, env := serveAuthed(t, a, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer some-token")
		})
		if code != http.StatusUnauthorized || env.Code != CodeInvalidCredentials {
			t.Errorf("status = %d code = %q", code, env.Code)
		}
	})

	t.Run("browser failure", func(t *testing.T) {
		a := buildAuth(t, "unused", settings, &stubRunner{err: context.DeadlineExceeded})
		code, _ := serveAuthed(t, a, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer some-token")
		})
		if code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", code)
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(r); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestJWTRequiresJwksURL(t *testing.T) {
	s := config.Settings{Port: 3000}
	s.Auth.JWT = config.JWTSettings{Enabled: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := newAuthenticator(ctx, "secret", s, nil); err == nil {
		t.Error("expected error for jwt without jwksUrl")
	}
}

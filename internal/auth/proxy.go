package auth

import (
	"context"
	"errors"
	"fmt"
)

// ScriptRunner evaluates a script in a hidden browser tab. The registry
// implements it; tests substitute their own.
type ScriptRunner interface {
	RunHiddenScript(ctx context.Context, url, script string) (any, error)
}

// verifyViaBrowser checks the token with the verifier page's WebCrypto
// implementation instead of verifying it in-process. The page exposes
// verifyToken(token, jwksUrl, issuer, audience) returning a promise of a
// boolean.
func (a *Authenticator) verifyViaBrowser(ctx context.Context, token string) (bool, error) {
	if a.runner == nil {
		return false, errors.New("no browser available for token verification")
	}

	script := fmt.Sprintf("verifyToken(%q, %q, %q, %q)", token, a.jwt.JwksURL, a.jwt.Issuer, a.jwt.Audience)
	result, err := a.runner.RunHiddenScript(ctx, a.verifierURL, script)
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	return ok, nil
}

package clerk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

// ErrMissingToken is returned when no session token was presented.
var ErrMissingToken = errors.New("clerk: session token is required")

// Session is a verified Clerk session.
type Session struct {
	UserID    string
	SessionID string
}

// Verifier validates Clerk session JWTs against the instance JWKS.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifierFromEnv builds a verifier from CLERK_ISSUER and CLERK_JWKS_URL.
func NewVerifierFromEnv(ctx context.Context) (*Verifier, error) {
	issuer := strings.TrimRight(strings.TrimSpace(env.GetEnv("CLERK_ISSUER", "")), "/")
	if issuer == "" {
		return nil, errors.New("CLERK_ISSUER is not configured")
	}
	jwksURL := strings.TrimSpace(env.GetEnv("CLERK_JWKS_URL", ""))
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}
	return NewVerifier(issuer, oidc.NewRemoteKeySet(ctx, jwksURL)), nil
}

// NewVerifier wires an explicit key set; tests use oidc.StaticKeySet.
func NewVerifier(issuer string, keySet oidc.KeySet) *Verifier {
	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			// Clerk session tokens carry azp instead of aud.
			SkipClientIDCheck: true,
		}),
	}
}

// Verify checks signature, issuer and expiry and returns the session.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, ErrMissingToken
	}
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("clerk: invalid session token: %w", err)
	}

	var claims struct {
		SessionID string `json:"sid"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("clerk: invalid session claims: %w", err)
	}
	if idToken.Subject == "" {
		return nil, errors.New("clerk: session token has no subject")
	}
	return &Session{UserID: idToken.Subject, SessionID: claims.SessionID}, nil
}

// Package oidc verifies bearer tokens presented to the control API against
// an OIDC issuer.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// VerifierConfig holds the settings for building a Verifier.
type VerifierConfig struct {
	// Issuer is the OIDC issuer URL; discovery runs against it once at
	// construction.
	Issuer string
	// Audience is the expected aud claim. Empty skips the audience check.
	Audience string
	// HTTPClient overrides the discovery/JWKS client. Optional.
	HTTPClient *http.Client
}

// Verifier validates bearer tokens via the issuer's JWKS.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// Claims is the subset of token claims the control API cares about.
type Claims struct {
	Subject string
	Email   string
	Expiry  time.Time
}

// NewVerifier runs OIDC discovery against the issuer and prepares a token
// verifier.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	issuer := strings.TrimSuffix(strings.TrimSpace(cfg.Issuer), "/")
	if issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	oc := &gooidc.Config{ClientID: cfg.Audience}
	if strings.TrimSpace(cfg.Audience) == "" {
		oc.SkipClientIDCheck = true
	}

	return &Verifier{verifier: provider.Verifier(oc)}, nil
}

// Verify checks the raw bearer token and returns its claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	var payload struct {
		Email string `json:"email"`
	}
	// Claims decoding is best effort; a token without an email claim is fine.
	_ = token.Claims(&payload)

	return Claims{
		Subject: token.Subject,
		Email:   payload.Email,
		Expiry:  token.Expiry,
	}, nil
}

package config

import "strings"

// AuthConfig controls bearer authentication on the control API. With neither
// a static token nor an OIDC issuer configured the API is open, which is the
// expected mode behind a trusted ingress.
type AuthConfig struct {
	// Token is a static bearer token compared in constant time.
	Token string `env:"AUTH_TOKEN"`

	// OIDCIssuer enables JWT verification via OIDC discovery against the
	// issuer's JWKS.
	OIDCIssuer string `env:"AUTH_OIDC_ISSUER"`

	// OIDCAudience is the expected aud claim. Empty skips the audience check.
	OIDCAudience string `env:"AUTH_OIDC_AUDIENCE"`
}

// Sanitize trims whitespace from credential values.
func (a *AuthConfig) Sanitize() {
	a.Token = strings.TrimSpace(a.Token)
	a.OIDCIssuer = strings.TrimSpace(a.OIDCIssuer)
	a.OIDCAudience = strings.TrimSpace(a.OIDCAudience)
}

// Enabled reports whether any credential check is configured.
func (a *AuthConfig) Enabled() bool {
	return a.Token != "" || a.OIDCIssuer != ""
}

// UsesOIDC reports whether OIDC verification should be wired.
func (a *AuthConfig) UsesOIDC() bool {
	return a.OIDCIssuer != ""
}

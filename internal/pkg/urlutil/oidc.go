package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// OIDCDiscoveryURL builds the OIDC discovery document URL for the given issuer.
// Returns a URL like: {issuer}/.well-known/openid-configuration
// Ensures no double slashes by trimming trailing slash from issuer.
func OIDCDiscoveryURL(issuer string) string {
	issuer = strings.TrimRight(issuer, "/")
	return fmt.Sprintf("%s/.well-known/openid-configuration", issuer)
}

// OAuthCallbackURL builds the redirect URI registered with a provider.
// Returns a URL like: {baseURL}/api/auth/oauth/{provider}/callback
func OAuthCallbackURL(baseURL, provider string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	return u.JoinPath("api", "auth", "oauth", provider, "callback").String(), nil
}

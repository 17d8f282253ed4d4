package urlutil

import (
	"net/url"
)

// Paths of the web pages that consume emailed tokens
const (
	VerifyEmailPath   = "/verify-email"
	ResetPasswordPath = "/reset-password"
	UnsubscribePath   = "/unsubscribe"
)

// BuildTokenURL builds a web application URL carrying a single-use token.
// Returns a URL like: {baseURL}{path}?token={token}
// Any path already present on baseURL is kept as a prefix.
func BuildTokenURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath(path)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyEmailURL builds the link sent in verification emails
func VerifyEmailURL(baseURL, token string) (string, error) {
	return BuildTokenURL(baseURL, VerifyEmailPath, token)
}

// ResetPasswordURL builds the link sent in password reset emails
func ResetPasswordURL(baseURL, token string) (string, error) {
	return BuildTokenURL(baseURL, ResetPasswordPath, token)
}

// UnsubscribeURL builds a one-click unsubscribe link
func UnsubscribeURL(baseURL, token string) (string, error) {
	return BuildTokenURL(baseURL, UnsubscribePath, token)
}

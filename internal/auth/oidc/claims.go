package oidc

// Claims is the profile an identity provider reports for a user after a
// successful code exchange
type Claims struct {
	// Subject - unique identifier for the user at the provider
	Subject string

	// Email address of the user
	Email string

	// EmailVerified indicates if the email has been verified by the provider
	EmailVerified bool

	// Name is the user's display name
	Name string

	// Picture is the URL to the user's profile picture
	Picture string

	// Issuer is the provider that issued the identity (empty without an ID token)
	Issuer string
}

// IsValid performs basic validation of required claims
func (c *Claims) IsValid() bool {
	return c.Subject != "" && c.Email != ""
}

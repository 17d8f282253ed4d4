package oidc

import "strconv"

// stringClaim returns the first non-empty string value among keys
func stringClaim(claims map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// Some providers (GitHub) send numeric account ids
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// boolClaim returns the first boolean value among keys. Providers disagree
// on the type, so "true" strings are accepted too.
func boolClaim(claims map[string]interface{}, keys ...string) (bool, bool) {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

// mergeClaims fills empty fields of c from a userinfo response
func mergeClaims(c *Claims, userinfo map[string]interface{}) {
	if c.Subject == "" {
		c.Subject = stringClaim(userinfo, "sub", "id")
	}
	if c.Email == "" {
		c.Email = stringClaim(userinfo, "email")
		// Verification only counts when it describes the email we just took
		if verified, ok := boolClaim(userinfo, "email_verified", "verified"); ok {
			c.EmailVerified = verified
		}
	}
	if c.Name == "" {
		c.Name = stringClaim(userinfo, "name", "global_name", "preferred_username", "nickname", "username", "login")
	}
	if c.Picture == "" {
		c.Picture = stringClaim(userinfo, "picture", "avatar_url")
	}
}

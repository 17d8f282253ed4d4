package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/devilmonastery/gatehouse/internal/config"
)

// GenericOIDCProvider implements Provider for any OAuth2 provider, using OIDC
// discovery when an issuer is configured and explicit endpoints otherwise
type GenericOIDCProvider struct {
	cfg            config.ProviderConfig
	redirectURL    string
	discoveryCache *OIDCDiscoveryCache
	httpClient     *http.Client

	mu        sync.Mutex
	jwksCache *JWKSCache
}

// endpoints is the resolved set of URLs for one provider
type endpoints struct {
	oauth2.Endpoint
	issuer      string
	userinfoURL string
	jwksURL     string
}

// NewGenericOIDCProvider creates a new generic OIDC provider
func NewGenericOIDCProvider(cfg config.ProviderConfig, redirectURL string, discoveryCache *OIDCDiscoveryCache, httpClient *http.Client) *GenericOIDCProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GenericOIDCProvider{
		cfg:            cfg,
		redirectURL:    redirectURL,
		discoveryCache: discoveryCache,
		httpClient:     httpClient,
	}
}

// Name returns the provider identifier
func (p *GenericOIDCProvider) Name() string {
	return p.cfg.Name
}

// AuthCodeURL builds the authorization URL with the PKCE S256 challenge
func (p *GenericOIDCProvider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	conf, _, err := p.oauthConfig(ctx)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier)), nil
}

// Exchange redeems the code at the token endpoint and resolves the user's
// identity from the ID token and the userinfo endpoint
func (p *GenericOIDCProvider) Exchange(ctx context.Context, code, verifier string) (*Claims, error) {
	conf, ep, err := p.oauthConfig(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %s", ErrExchangeRejected, re.ErrorCode)
		}
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderUnavailable, err)
	}

	claims := &Claims{}
	if rawIDToken, ok := tok.Extra("id_token").(string); ok && rawIDToken != "" && ep.jwksURL != "" {
		claims, err = p.validateIDToken(ctx, rawIDToken, ep)
		if err != nil {
			return nil, fmt.Errorf("%w: id token: %v", ErrExchangeRejected, err)
		}
	}

	// Email is frequently missing from ID tokens (and there may be no ID token at all)
	if ep.userinfoURL != "" && (claims.Subject == "" || claims.Email == "" || claims.Name == "") {
		userinfo, err := p.fetchUserinfo(ctx, conf, tok, ep.userinfoURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		mergeClaims(claims, userinfo)
	}

	if !claims.IsValid() {
		return nil, fmt.Errorf("%w: subject and email are required", ErrExchangeRejected)
	}
	return claims, nil
}

// oauthConfig resolves endpoints and builds the oauth2 client configuration
func (p *GenericOIDCProvider) oauthConfig(ctx context.Context) (*oauth2.Config, *endpoints, error) {
	ep, err := p.resolveEndpoints(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     ep.Endpoint,
		RedirectURL:  p.redirectURL,
		Scopes:       p.cfg.Scopes,
	}, ep, nil
}

func (p *GenericOIDCProvider) resolveEndpoints(ctx context.Context) (*endpoints, error) {
	ep := &endpoints{
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.cfg.AuthURL,
			TokenURL: p.cfg.TokenURL,
		},
		userinfoURL: p.cfg.UserinfoURL,
	}
	if p.cfg.Issuer == "" {
		return ep, nil
	}

	doc, err := p.discoveryCache.GetDiscovery(ctx, p.cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrProviderUnavailable, err)
	}
	// Explicit endpoints override discovered ones
	if ep.AuthURL == "" {
		ep.AuthURL = doc.AuthorizationEndpoint
	}
	if ep.TokenURL == "" {
		ep.TokenURL = doc.TokenEndpoint
	}
	if ep.userinfoURL == "" {
		ep.userinfoURL = doc.UserinfoEndpoint
	}
	ep.issuer = doc.Issuer
	ep.jwksURL = doc.JWKSURI
	return ep, nil
}

// validateIDToken verifies an RS256 ID token against the provider's JWKS
func (p *GenericOIDCProvider) validateIDToken(ctx context.Context, rawIDToken string, ep *endpoints) (*Claims, error) {
	p.mu.Lock()
	if p.jwksCache == nil {
		p.jwksCache = NewJWKSCache(ep.jwksURL, time.Hour, p.httpClient)
	}
	jwks := p.jwksCache
	p.mu.Unlock()

	mapClaims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawIDToken, mapClaims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return jwks.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(ep.issuer),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims := &Claims{
		Subject: stringClaim(mapClaims, "sub"),
		Email:   stringClaim(mapClaims, "email"),
		Name:    stringClaim(mapClaims, "name", "global_name", "preferred_username"),
		Picture: stringClaim(mapClaims, "picture"),
		Issuer:  ep.issuer,
	}
	claims.EmailVerified, _ = boolClaim(mapClaims, "email_verified")
	return claims, nil
}

// fetchUserinfo fetches user information from the userinfo endpoint
func (p *GenericOIDCProvider) fetchUserinfo(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token, userinfoURL string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var userinfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userinfo); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return userinfo, nil
}

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/pkg/urlutil"
)

var (
	// ErrUnknownProvider is returned for a provider name that is not configured
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrExchangeRejected means the provider refused the code or returned an unusable identity
	ErrExchangeRejected = errors.New("identity provider rejected the exchange")
	// ErrProviderUnavailable means the provider could not be reached
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Provider is an external identity provider using the authorization code flow with PKCE
type Provider interface {
	// Name returns the provider identifier (e.g., "google", "github")
	Name() string

	// AuthCodeURL builds the URL the browser is sent to. The S256 challenge
	// for verifier is attached; the verifier itself never leaves the server.
	AuthCodeURL(ctx context.Context, state, verifier string) (string, error)

	// Exchange trades an authorization code and its PKCE verifier for the
	// user's identity at the provider
	Exchange(ctx context.Context, code, verifier string) (*Claims, error)
}

// Registry holds the configured providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// NewRegistryFromConfig builds a registry with one generic provider per config
// entry. Redirect URIs default to the OAuth callback under publicBaseURL.
func NewRegistryFromConfig(providers []config.ProviderConfig, publicBaseURL string, httpClient *http.Client) (*Registry, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	discovery := NewOIDCDiscoveryCache(24*time.Hour, httpClient)

	r := NewRegistry()
	for _, cfg := range providers {
		redirectURL := cfg.RedirectURL
		if redirectURL == "" {
			u, err := urlutil.OAuthCallbackURL(publicBaseURL, cfg.Name)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
			}
			redirectURL = u
		}
		r.Register(NewGenericOIDCProvider(cfg, redirectURL, discovery, httpClient))
	}
	return r, nil
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return provider, nil
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devilmonastery/gatehouse/internal/pkg/urlutil"
)

// OIDCDiscoveryDocument represents the OIDC discovery document
type OIDCDiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// cachedDiscovery holds a discovery document with its expiration time
type cachedDiscovery struct {
	doc       *OIDCDiscoveryDocument
	expiresAt time.Time
}

// OIDCDiscoveryCache caches OIDC discovery documents
type OIDCDiscoveryCache struct {
	cache      map[string]*cachedDiscovery
	mu         sync.RWMutex
	ttl        time.Duration
	httpClient *http.Client
}

// NewOIDCDiscoveryCache creates a new discovery cache with the specified TTL
func NewOIDCDiscoveryCache(ttl time.Duration, httpClient *http.Client) *OIDCDiscoveryCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &OIDCDiscoveryCache{
		cache:      make(map[string]*cachedDiscovery),
		ttl:        ttl,
		httpClient: httpClient,
	}
}

// GetDiscovery fetches or retrieves from cache the OIDC discovery document
func (c *OIDCDiscoveryCache) GetDiscovery(ctx context.Context, issuer string) (*OIDCDiscoveryDocument, error) {
	c.mu.RLock()
	cached, exists := c.cache[issuer]
	c.mu.RUnlock()

	if exists && time.Now().Before(cached.expiresAt) {
		return cached.doc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed it while we waited
	cached, exists = c.cache[issuer]
	if exists && time.Now().Before(cached.expiresAt) {
		return cached.doc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlutil.OIDCDiscoveryURL(issuer), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var doc OIDCDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("incomplete discovery document from %s", issuer)
	}

	c.cache[issuer] = &cachedDiscovery{
		doc:       &doc,
		expiresAt: time.Now().Add(c.ttl),
	}

	return &doc, nil
}

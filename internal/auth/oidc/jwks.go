package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// JWKSCache caches public keys from a JWKS endpoint
type JWKSCache struct {
	url        string
	mu         sync.Mutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	httpClient *http.Client
}

// NewJWKSCache creates a new JWKS cache
func NewJWKSCache(url string, ttl time.Duration, httpClient *http.Client) *JWKSCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{
		url:        url,
		keys:       make(map[string]*rsa.PublicKey),
		cacheTTL:   ttl,
		httpClient: httpClient,
	}
}

// GetKey retrieves a public key by key ID
func (j *JWKSCache) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if time.Since(j.lastFetch) > j.cacheTTL || len(j.keys) == 0 {
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
	}

	key, ok := j.keys[kid]
	if !ok {
		// The provider may have rotated keys since the last fetch
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
		key, ok = j.keys[kid]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
	}

	return key, nil
}

// refresh fetches the latest JWKS from the provider. Caller holds j.mu.
func (j *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	newKeys := make(map[string]*rsa.PublicKey)
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		var e int
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}
		newKeys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}

	if len(newKeys) == 0 {
		return fmt.Errorf("no valid keys found in JWKS")
	}

	j.keys = newKeys
	j.lastFetch = time.Now()
	return nil
}

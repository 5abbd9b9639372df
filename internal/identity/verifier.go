// Package identity verifies OIDC ID tokens and turns them into IdentityClaims.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

const jwksTTL = time.Hour

// ProviderConfig describes one OIDC issuer
type ProviderConfig struct {
	// Issuers are the accepted iss values; the first is the one recorded
	Issuers []string
	JWKSURI string
}

// DefaultProviders are the production Google and Apple endpoints
var DefaultProviders = map[types.Provider]ProviderConfig{
	types.ProviderGoogle: {
		Issuers: []string{"https://accounts.google.com", "accounts.google.com"},
		JWKSURI: "https://www.googleapis.com/oauth2/v3/certs",
	},
	types.ProviderApple: {
		Issuers: []string{"https://appleid.apple.com"},
		JWKSURI: "https://appleid.apple.com/auth/keys",
	},
}

type jwksEntry struct {
	keys      map[string]any
	expiresAt time.Time
}

// Verifier validates ID tokens against the provider's JWKS
type Verifier struct {
	providers  map[types.Provider]ProviderConfig
	audience   string
	httpClient *http.Client
	now        func() time.Time

	mu   sync.RWMutex
	jwks map[string]jwksEntry
}

// NewVerifier creates a verifier accepting tokens issued for audience.
// providers may be nil to use DefaultProviders.
func NewVerifier(audience string, providers map[types.Provider]ProviderConfig) *Verifier {
	if providers == nil {
		providers = DefaultProviders
	}
	return &Verifier{
		providers: providers,
		audience:  audience,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:  time.Now,
		jwks: make(map[string]jwksEntry),
	}
}

// Verify checks signature, issuer, audience and expiry of an ID token
func (v *Verifier) Verify(ctx context.Context, provider types.Provider, tokenString string) (types.IdentityClaims, error) {
	cfg, ok := v.providers[provider]
	if !ok {
		return types.IdentityClaims{}, apperrors.BadRequest(fmt.Sprintf("unsupported provider %q", provider))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (any, error) {
			kid, ok := token.Header["kid"].(string)
			if !ok {
				return nil, fmt.Errorf("missing kid in token header")
			}
			return v.publicKey(ctx, kid, cfg.JWKSURI)
		},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return types.IdentityClaims{}, invalidToken(err.Error())
	}

	if !slices.Contains(cfg.Issuers, claims.Issuer) {
		return types.IdentityClaims{}, invalidToken(fmt.Sprintf("unexpected issuer %q", claims.Issuer))
	}
	if claims.Subject == "" {
		return types.IdentityClaims{}, invalidToken("missing subject claim")
	}

	// accepted spellings of the issuer map to one identity
	return types.IdentityClaims{
		Issuer:   cfg.Issuers[0],
		Subject:  claims.Subject,
		Audience: v.audience,
		Provider: provider,
	}, nil
}

func invalidToken(detail string) *apperrors.AppError {
	return apperrors.NewWithDetail(apperrors.ErrCodeUnauthorized, "Invalid identity token", detail, http.StatusUnauthorized)
}

// publicKey retrieves a key from the JWKS, cached per URI
func (v *Verifier) publicKey(ctx context.Context, kid, jwksURI string) (any, error) {
	v.mu.RLock()
	entry, ok := v.jwks[jwksURI]
	v.mu.RUnlock()
	if ok && v.now().Before(entry.expiresAt) {
		if key, found := entry.keys[kid]; found {
			return key, nil
		}
	}

	keys, err := v.fetchJWKS(ctx, jwksURI)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.jwks[jwksURI] = jwksEntry{keys: keys, expiresAt: v.now().Add(jwksTTL)}
	v.mu.Unlock()

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

func (v *Verifier) fetchJWKS(ctx context.Context, jwksURI string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		kid, ok := jwk["kid"].(string)
		if !ok {
			continue
		}

		var (
			key      any
			parseErr error
		)
		switch jwk["kty"] {
		case "RSA":
			key, parseErr = parseRSAKey(jwk)
		case "EC":
			key, parseErr = parseECKey(jwk)
		default:
			continue
		}
		if parseErr != nil {
			continue
		}
		keys[kid] = key
	}
	return keys, nil
}

func decodeParam(jwk map[string]any, name string) (*big.Int, error) {
	s, ok := jwk[name].(string)
	if !ok {
		return nil, fmt.Errorf("missing '%s' parameter", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}

func parseRSAKey(jwk map[string]any) (*rsa.PublicKey, error) {
	n, err := decodeParam(jwk, "n")
	if err != nil {
		return nil, err
	}
	e, err := decodeParam(jwk, "e")
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseECKey(jwk map[string]any) (*ecdsa.PublicKey, error) {
	var c elliptic.Curve
	switch jwk["crv"] {
	case "P-256":
		c = elliptic.P256()
	case "P-384":
		c = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve: %v", jwk["crv"])
	}

	x, err := decodeParam(jwk, "x")
	if err != nil {
		return nil, err
	}
	y, err := decodeParam(jwk, "y")
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: c, X: x, Y: y}, nil
}

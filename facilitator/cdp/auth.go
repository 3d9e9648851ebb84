// Package cdp provides JWT authentication for CDP-hosted facilitators.
// The Coinbase-operated facilitator requires each request to carry a Bearer
// token signed with the caller's CDP API key.
package cdp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// DefaultHost is the API host embedded in the JWT uri claim.
const DefaultHost = "api.cdp.coinbase.com"

// Auth generates short-lived JWT Bearer tokens for CDP API authentication.
// It is immutable after construction and safe for concurrent use; the parsed
// private key is cached to avoid repeated PEM parsing.
type Auth struct {
	apiKeyName string
	host       string
	privateKey interface{}
}

// apiKeyClaims extends the standard JWT claims with the CDP uri claim.
type apiKeyClaims struct {
	*jwt.Claims
	// URI is the full request URI in format "{METHOD} {host}{path}".
	URI string `json:"uri"`
}

// NewAuth parses the PEM-encoded ECDSA or Ed25519 API key secret and returns
// an Auth bound to the given key name. host may be empty, in which case
// DefaultHost is used.
func NewAuth(apiKeyName, apiKeySecret, host string) (*Auth, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("apiKeyName must not be empty")
	}
	if host == "" {
		host = DefaultHost
	}

	block, _ := pem.Decode([]byte(apiKeySecret))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	// EC keys are the common case for CDP; fall back to PKCS8 which also
	// covers Ed25519.
	var privateKey interface{}
	var err error

	privateKey, err = x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		privateKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	switch privateKey.(type) {
	case *ecdsa.PrivateKey:
	case crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	return &Auth{
		apiKeyName: apiKeyName,
		host:       host,
		privateKey: privateKey,
	}, nil
}

// BearerToken generates a JWT Bearer token for the given request. The token
// is valid for 2 minutes and binds the method and path via the uri claim.
func (a *Auth) BearerToken(method, path string) (string, error) {
	var alg jose.SignatureAlgorithm
	switch a.privateKey.(type) {
	case *ecdsa.PrivateKey:
		alg = jose.ES256
	default:
		alg = jose.EdDSA
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.apiKeyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := time.Now()
	claims := &apiKeyClaims{
		Claims: &jwt.Claims{
			Subject:   a.apiKeyName,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(2 * time.Minute)),
		},
		URI: fmt.Sprintf("%s %s%s", method, a.host, path),
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}

	return token, nil
}

// Provider returns an authorization provider compatible with the HTTP
// facilitator client: it yields a fresh "Bearer ..." value per request.
func (a *Auth) Provider() func(method, path string) (string, error) {
	return func(method, path string) (string, error) {
		token, err := a.BearerToken(method, path)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	}
}

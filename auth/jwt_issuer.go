package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/thomasrutger/Connector/core"
)

type JWTIssuerConfig struct {
	// ParticipantID becomes both issuer and subject of issued tokens.
	ParticipantID string
	Secret        string
	KeyID         string
	// Method and SigningKey override HS256 with a shared secret.
	Method      jwt.SigningMethod
	SigningKey  any
	TTL         time.Duration
	RenewBefore time.Duration
	Now         func() time.Time
}

// JWTIssuer signs self-issued tokens for outbound protocol calls, one per
// counterparty audience.
type JWTIssuer struct {
	config JWTIssuerConfig
	cache  *tokenCache
}

func NewJWTIssuer(cfg JWTIssuerConfig) *JWTIssuer {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	renewBefore := cfg.RenewBefore
	if renewBefore <= 0 || renewBefore >= ttl {
		renewBefore = ttl / 5
	}
	method := cfg.Method
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	return &JWTIssuer{
		config: JWTIssuerConfig{
			ParticipantID: strings.TrimSpace(cfg.ParticipantID),
			Secret:        strings.TrimSpace(cfg.Secret),
			KeyID:         strings.TrimSpace(cfg.KeyID),
			Method:        method,
			SigningKey:    cfg.SigningKey,
			TTL:           ttl,
			RenewBefore:   renewBefore,
			Now:           defaultNow(cfg.Now),
		},
		cache: newTokenCache(renewBefore),
	}
}

func (i *JWTIssuer) Token(_ context.Context, audience string) (string, error) {
	if i == nil {
		return "", fmt.Errorf("auth: jwt issuer is not configured")
	}
	if i.config.ParticipantID == "" {
		return "", fmt.Errorf("auth: jwt issuer requires a participant id")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", fmt.Errorf("auth: token audience is required")
	}

	now := i.config.Now().UTC()
	if token, ok := i.cache.lookup(audience, now); ok {
		return token, nil
	}

	key, err := i.signingKey()
	if err != nil {
		return "", err
	}
	expiresAt := now.Add(i.config.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    i.config.ParticipantID,
		Subject:   i.config.ParticipantID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(i.config.Method, claims)
	if i.config.KeyID != "" {
		token.Header["kid"] = i.config.KeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign outbound token: %w", err)
	}
	i.cache.store(audience, signed, expiresAt)
	return signed, nil
}

func (i *JWTIssuer) signingKey() (any, error) {
	if i.config.SigningKey != nil {
		return i.config.SigningKey, nil
	}
	if _, ok := i.config.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: %s signing requires a signing key", i.config.Method.Alg())
	}
	if i.config.Secret == "" {
		return nil, fmt.Errorf("auth: jwt signing secret is required")
	}
	return []byte(i.config.Secret), nil
}

var _ core.TokenSource = (*JWTIssuer)(nil)

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/thomasrutger/Connector/core"
)

const defaultLeeway = 30 * time.Second

var registeredClaimNames = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
}

type JWTVerifierConfig struct {
	// Secret verifies HMAC-signed tokens.
	Secret string
	// Keys maps a key id to a public key for asymmetric algorithms.
	Keys       map[string]any
	Algorithms []string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	Now        func() time.Time
}

// JWTVerifier validates the bearer token of inbound protocol messages.
type JWTVerifier struct {
	config JWTVerifierConfig
	parser *jwt.Parser
}

func NewJWTVerifier(cfg JWTVerifierConfig) *JWTVerifier {
	algorithms := normalizeValues(cfg.Algorithms)
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodHS256.Alg()}
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	now := defaultNow(cfg.Now)
	config := JWTVerifierConfig{
		Secret:     strings.TrimSpace(cfg.Secret),
		Keys:       cfg.Keys,
		Algorithms: algorithms,
		Issuer:     strings.TrimSpace(cfg.Issuer),
		Audience:   strings.TrimSpace(cfg.Audience),
		Leeway:     leeway,
		Now:        now,
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods(algorithms),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		options = append(options, jwt.WithAudience(config.Audience))
	}
	return &JWTVerifier{config: config, parser: jwt.NewParser(options...)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (core.Claims, error) {
	if v == nil || v.parser == nil {
		return core.Claims{}, unauthenticated("verifier is not configured")
	}
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return core.Claims{}, unauthenticated("bearer token is required")
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, mapClaims, v.keyFor)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return core.Claims{}, unauthenticated("token expired")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return core.Claims{}, unauthenticated("token audience does not match %q", v.config.Audience)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return core.Claims{}, unauthenticated("token issuer does not match %q", v.config.Issuer)
		}
		return core.Claims{}, unauthenticated("invalid token: %v", err)
	}
	if !parsed.Valid {
		return core.Claims{}, unauthenticated("token is invalid")
	}
	return extractClaims(mapClaims)
}

func (v *JWTVerifier) keyFor(token *jwt.Token) (any, error) {
	if kid, _ := token.Header["kid"].(string); strings.TrimSpace(kid) != "" {
		if key, ok := v.config.Keys[strings.TrimSpace(kid)]; ok && key != nil {
			return key, nil
		}
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok && v.config.Secret != "" {
		return []byte(v.config.Secret), nil
	}
	return nil, errors.New("no verification key for token")
}

func extractClaims(mapClaims jwt.MapClaims) (core.Claims, error) {
	subject, err := mapClaims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return core.Claims{}, unauthenticated("token subject is required")
	}
	issuer, _ := mapClaims.GetIssuer()
	audience, _ := mapClaims.GetAudience()

	attrs := map[string]any{}
	for key, value := range mapClaims {
		if _, registered := registeredClaimNames[key]; registered {
			continue
		}
		attrs[key] = value
	}
	return core.Claims{
		Subject:  strings.TrimSpace(subject),
		Issuer:   strings.TrimSpace(issuer),
		Audience: append([]string(nil), audience...),
		Attrs:    attrs,
	}, nil
}

var _ core.CredentialVerifier = (*JWTVerifier)(nil)

// Package auth verifies bearer credentials issued by the trusted identity
// provider and resolves them to a subject identifier.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is wrapped by every verification failure. Callers must not
// distinguish between the underlying causes.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Config controls which tokens are accepted.
type Config struct {
	Issuer      string
	Audience    string
	JWKSURL     string
	AllowedAlgs []string
	Leeway      time.Duration
}

// CognitoIssuer returns the issuer URL of a Cognito user pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// JWKSURL returns the conventional key-set location for an issuer.
func JWKSURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// Verifier validates signed JWTs against a JWKS published by the issuer.
type Verifier struct {
	cfg     Config
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// New builds a Verifier backed by an auto-refreshing JWKS. Keys are cached by
// kid; an unknown kid triggers a rate-limited refetch.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = JWKSURL(cfg.Issuer)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewWithKeyfunc(cfg, kf.Keyfunc)
}

// NewWithKeyfunc builds a Verifier around an existing key lookup.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (*Verifier, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if kf == nil {
		return nil, errors.New("keyfunc is required")
	}
	v := &Verifier{
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods(cfg.AllowedAlgs),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.Leeway),
		),
	}
	v.keyfunc = func(t *jwt.Token) (any, error) {
		if !slices.Contains(cfg.AllowedAlgs, t.Method.Alg()) {
			return nil, fmt.Errorf("disallowed alg: %s", t.Method.Alg())
		}
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, errors.New("missing kid")
		}
		return kf(t)
	}
	return v, nil
}

func (c *Config) check() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	for _, alg := range c.AllowedAlgs {
		if alg == "none" || strings.HasPrefix(alg, "HS") {
			return fmt.Errorf("alg %s is not allowed", alg)
		}
	}
	return nil
}

// Verify returns the subject of a valid token.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	parsed, err := v.parser.Parse(token, v.keyfunc)
	if err != nil {
		return "", fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return sub, nil
}

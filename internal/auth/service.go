package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"whiteboard-relay/internal/config"
	"whiteboard-relay/internal/models"
	"whiteboard-relay/pkg/logger"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier turns a bearer token into a verified identity. It accepts HMAC
// tokens signed with the shared secret and, when a JWKS URL is configured,
// asymmetric tokens signed by the identity provider.
type Verifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	issuer string
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { logger.Error("JWKS refresh error: %v", err) },
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
		logger.Info("JWKS loaded from %s", cfg.JWKSURL)
	}

	return v, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("HMAC tokens are not accepted")
		}
		return v.secret, nil
	}
	if v.jwks != nil {
		return v.jwks.Keyfunc(token)
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

// Verify fails closed: any parse, signature or claim problem is ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	subject := claimString(claims, "sub", "user_id", "uid")
	if subject == "" {
		return models.Identity{}, fmt.Errorf("%w: no subject claim", ErrInvalidToken)
	}

	name := claimString(claims, "name", "preferred_username", "email")
	if name == "" {
		name = "Anonymous"
	}

	return models.Identity{SubjectID: subject, DisplayName: name}, nil
}

func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter that browser websocket clients use.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch value := claims[key].(type) {
		case string:
			if value != "" {
				return value
			}
		case float64:
			return fmt.Sprintf("%.0f", value)
		}
	}
	return ""
}

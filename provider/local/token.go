package local

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// accessClaims is the payload of an access token
type accessClaims struct {
	Email        string         `json:"email"`
	SessionID    string         `json:"sid"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

func (p *Provider) signAccessToken(identity *identityRecord, sid uuid.UUID) (string, time.Time, error) {
	now := p.now()
	// numeric dates have second precision
	expiresAt := now.Add(p.accessTTL).Truncate(time.Second)

	claims := &accessClaims{
		Email:        identity.Email,
		SessionID:    sid.String(),
		UserMetadata: identity.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.issuer,
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign access token")
	}

	return signed, expiresAt, nil
}

// parseAccessToken checks the signature and, when validate is set, the
// expiry and issuer.
func (p *Provider) parseAccessToken(tokenString string, validate bool) (*accessClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if validate {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			p.logger.Error("unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.signingKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !token.Valid || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func sessionIDFromToken(p *Provider, tokenString string) string {
	claims, err := p.parseAccessToken(tokenString, false)
	if err != nil {
		return ""
	}
	return claims.SessionID
}

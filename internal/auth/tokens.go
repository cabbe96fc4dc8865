package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const tokenIssuer = "bookmarker"

type (
	Claims struct {
		jwt.RegisteredClaims
		Email    string `json:"email"`
		Provider string `json:"provider"`
	}

	TokenIssuer struct {
		secret []byte
		ttl    time.Duration
		now    func() time.Time
	}
)

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a session token. sessionID becomes the jti so the token can be revoked.
func (t *TokenIssuer) Issue(sessionID, userID, email, provider string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:    email,
		Provider: provider,
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, expires, nil
}

// Parse checks the signature. Expiry is only enforced when checkExpiry is set, so expired
// tokens can still be revoked.
func (t *TokenIssuer) Parse(tokenString string, checkExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

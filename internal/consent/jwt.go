package consent

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a consent token: the standard claims (subject,
// expiry) plus the single scope it grants.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// IssueToken signs a consent token. Issuance belongs to the external
// authority; this exists for tooling and tests.
func IssueToken(subject string, scope Scope, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Scope: scope,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// JWTVerifier verifies HS256 consent tokens.
type JWTVerifier struct {
	secretKey []byte
	now       func() time.Time
}

func NewJWTVerifier(secretKey []byte) *JWTVerifier {
	return &JWTVerifier{secretKey: secretKey, now: time.Now}
}

// WithClock overrides the time source used for expiry checks.
func (v *JWTVerifier) WithClock(now func() time.Time) *JWTVerifier {
	v.now = now
	return v
}

func (v *JWTVerifier) Verify(tokenString string, scope Scope) Decision {
	if tokenString == "" {
		return Deny(ReasonMissing)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Deny(ReasonExpired)
		}
		return Deny(ReasonInvalidSignature)
	}
	if !token.Valid {
		return Deny(ReasonInvalidSignature)
	}

	if claims.Scope != scope {
		return Deny(ReasonWrongScope)
	}

	return Allow(claims.Subject)
}

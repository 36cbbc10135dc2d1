package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClass distinguishes short-lived access tokens from refresh tokens.
type TokenClass string

const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

func (c TokenClass) valid() bool {
	switch c {
	case ClassAccess, ClassRefresh:
		return true
	default:
		return false
	}
}

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	Class     TokenClass
	Name      string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Class TokenClass `json:"token_class"`
	Name  string     `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and parses compact JWTs with a symmetric key.
type Codec struct {
	key    []byte
	method *jwt.SigningMethodHMAC
	issuer string
	now    func() time.Time
}

// NewCodec builds a Codec. algorithm is one of HS256, HS384 or HS512.
func NewCodec(key []byte, algorithm, issuer string, now func() time.Time) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	var method *jwt.SigningMethodHMAC
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", algorithm)
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{key: key, method: method, issuer: strings.TrimSpace(issuer), now: now}, nil
}

// Issue signs a token for subject. The only recognised extra claim is
// "name"; it is informational and never used for authorization.
func (c *Codec) Issue(subject string, class TokenClass, ttl time.Duration, extra map[string]any) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !class.valid() {
		return "", time.Time{}, fmt.Errorf("%w: token class %q", ErrInvalidInput, class)
	}
	now := c.now().UTC()
	exp := expiry(now, ttl)
	claims := tokenClaims{
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if name, ok := extra["name"].(string); ok {
		claims.Name = name
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// expiryPrecision is the granularity of token expiry.
const expiryPrecision = time.Millisecond

func init() {
	// NumericDate defaults to whole seconds, which would let a token outlive
	// its ttl. Encoding at a finer precision than expiryPrecision lets Parse
	// round away the float error of the decoded claim.
	jwt.TimePrecision = time.Microsecond
}

// expiry is now+ttl truncated to expiryPrecision. Non-positive ttls yield
// an expiry that always fails Parse.
func expiry(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl).Truncate(expiryPrecision)
}

// Parse verifies signature, algorithm and expiry. A token is valid only
// while now is strictly before its expiry; there is no leeway.
func (c *Codec) Parse(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrDecode
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrDecode
	}
	if tc.Subject == "" || !tc.Class.valid() {
		return Claims{}, ErrDecode
	}
	exp := tc.ExpiresAt.Time.Round(expiryPrecision)
	if !c.now().Before(exp) {
		return Claims{}, ErrDecode
	}
	out := Claims{
		Subject:   tc.Subject,
		Class:     tc.Class,
		Name:      tc.Name,
		ID:        tc.ID,
		ExpiresAt: exp,
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	return out, nil
}

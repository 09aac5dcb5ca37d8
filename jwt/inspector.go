package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used when verification is enabled.
type SigningMethod string

const (
	// MethodEd25519 verifies EdDSA tokens with an Ed25519 public key.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 verifies HMAC-SHA256 tokens with a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// ErrNotJWT is returned when a token is not a parseable JWT.
var ErrNotJWT = errors.New("token is not a jwt")

// Config defines how tokens are inspected.
//
// Skew is subtracted from the expiry when deciding whether a refresh is
// due. VerifyKey, when set, makes Inspect verify the signature with Method.
type Config struct {
	Skew      time.Duration
	Method    SigningMethod
	VerifyKey []byte
}

// Claims is the subset of access-token claims the portal reads.
type Claims struct {
	SID   string   `json:"sid,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Inspector reads access-token claims. It is safe for concurrent use.
type Inspector struct {
	config Config
	parser *jwt.Parser
}

// NewInspector validates cfg and returns an Inspector.
func NewInspector(cfg Config) (*Inspector, error) {
	if cfg.Skew < 0 || cfg.Skew > 10*time.Minute {
		return nil, errors.New("invalid skew configuration")
	}
	if len(cfg.VerifyKey) > 0 && cfg.Method != MethodHS256 && cfg.Method != MethodEd25519 {
		return nil, errors.New("invalid signing method")
	}
	i := &Inspector{config: cfg}
	if len(cfg.VerifyKey) > 0 {
		i.parser = jwt.NewParser(jwt.WithValidMethods([]string{i.method().Alg()}), jwt.WithExpirationRequired())
	} else {
		i.parser = jwt.NewParser()
	}
	return i, nil
}

// Inspect returns the claims of token. Without a verify key the signature
// is not checked and expired tokens are still returned.
func (i *Inspector) Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if len(i.config.VerifyKey) == 0 {
		if _, _, err := i.parser.ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
		}
		return claims, nil
	}

	key, err := i.verifyKey()
	if err != nil {
		return nil, err
	}
	parsed, err := i.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of token, if it has one.
func (i *Inspector) ExpiresAt(token string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := i.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// NeedsRefresh reports whether token expires within the configured skew of
// now. Opaque tokens and tokens without exp never need a proactive refresh.
func (i *Inspector) NeedsRefresh(token string, now time.Time) bool {
	exp, ok := i.ExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Add(i.config.Skew).Before(exp)
}

func (i *Inspector) method() jwt.SigningMethod {
	if i.config.Method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (i *Inspector) verifyKey() (interface{}, error) {
	if i.config.Method == MethodHS256 {
		return i.config.VerifyKey, nil
	}
	return parseEdPublicKey(i.config.VerifyKey)
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

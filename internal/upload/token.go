// Package upload issues and verifies short-lived, signed upload tokens. A
// token binds one blob pathname to the content types allowed for its
// folder.
package upload

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/menta2k/audioshelf/internal/blob"
	"github.com/menta2k/audioshelf/pkg/errors"
)

const (
	DefaultTTL   = 10 * time.Minute
	DefaultRate  = 2.0
	DefaultBurst = 10
)

// Folder prefixes accepted for uploads.
const (
	AudioPrefix     = "audio/"
	ThumbnailPrefix = "thumbnails/"
)

var (
	audioTypes     = []string{"audio/mpeg", "audio/wav", "audio/mp4", "audio/m4a"}
	thumbnailTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}
)

// AllowedTypes returns the content types accepted for a pathname, decided
// by its folder prefix. Pathnames outside a known folder are FORBIDDEN.
func AllowedTypes(pathname string) ([]string, error) {
	switch {
	case strings.HasPrefix(pathname, AudioPrefix):
		return append([]string(nil), audioTypes...), nil
	case strings.HasPrefix(pathname, ThumbnailPrefix):
		return append([]string(nil), thumbnailTypes...), nil
	}
	return nil, errors.New(errors.ErrCodeForbidden, "uploads are not allowed to %q", pathname)
}

// Config controls token lifetime and issuance throttling.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Rate   float64
	Burst  int
}

// Claims is the signed token payload.
type Claims struct {
	Nonce        string   `json:"nonce"`
	Pathname     string   `json:"pathname"`
	AllowedTypes []string `json:"allowedTypes"`
	ExpiresAt    int64    `json:"exp"`
}

// Expires returns the expiry as a time.
func (c Claims) Expires() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Allows reports whether contentType is in the allow-list. Parameters such
// as "; charset=binary" are ignored.
func (c Claims) Allows(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range c.AllowedTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// Token is an issued upload authorization.
type Token struct {
	Token        string    `json:"token"`
	Pathname     string    `json:"pathname"`
	AllowedTypes []string  `json:"allowedTypes"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Authorizer issues and verifies upload tokens. Each token can be redeemed
// for one upload.
type Authorizer struct {
	secret  []byte
	ttl     time.Duration
	limiter *rate.Limiter
	now     func() time.Time

	mu   sync.Mutex
	used map[string]time.Time // redeemed nonce to token expiry
}

// NewAuthorizer creates an authorizer. Zero TTL, rate and burst take their
// defaults.
func NewAuthorizer(config Config) (*Authorizer, error) {
	if len(config.Secret) == 0 {
		return nil, fmt.Errorf("upload token secret is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Rate <= 0 {
		config.Rate = DefaultRate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultBurst
	}
	return &Authorizer{
		secret:  config.Secret,
		ttl:     config.TTL,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
		now:     time.Now,
		used:    make(map[string]time.Time),
	}, nil
}

// SetClock replaces the time source used for expiry.
func (a *Authorizer) SetClock(now func() time.Time) {
	a.now = now
}

// Issue creates a token for pathname. contentType is optional; when given
// it must already be in the folder's allow-list.
func (a *Authorizer) Issue(pathname, contentType string) (*Token, error) {
	clean, err := blob.CleanPath(pathname)
	if err != nil {
		return nil, err
	}
	allowed, err := AllowedTypes(clean)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if !a.limiter.AllowN(now, 1) {
		return nil, errors.New(errors.ErrCodeRateLimited, "too many upload requests")
	}

	claims := Claims{
		Nonce:        uuid.New().String(),
		Pathname:     clean,
		AllowedTypes: allowed,
		ExpiresAt:    now.Add(a.ttl).Unix(),
	}
	if contentType != "" && !claims.Allows(contentType) {
		return nil, errors.New(errors.ErrCodeInvalidInput, "content type %q is not allowed for %s", contentType, clean)
	}

	token, err := a.sign(claims)
	if err != nil {
		return nil, err
	}
	return &Token{
		Token:        token,
		Pathname:     clean,
		AllowedTypes: allowed,
		ExpiresAt:    claims.Expires(),
	}, nil
}

// Verify checks the signature and expiry of token and that it was issued
// for pathname. The returned claims carry the content type allow-list.
func (a *Authorizer) Verify(token, pathname string) (*Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sig == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "malformed upload token")
	}

	want := a.mac(payload)
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid upload token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "malformed upload token")
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "malformed upload token")
	}

	if !a.now().Before(claims.Expires()) {
		return nil, errors.New(errors.ErrCodeUnauthorized, "upload token expired")
	}
	if claims.Pathname != pathname {
		return nil, errors.New(errors.ErrCodeForbidden, "upload token was issued for a different path")
	}

	a.mu.Lock()
	_, used := a.used[claims.Nonce]
	a.mu.Unlock()
	if used {
		return nil, errors.New(errors.ErrCodeUnauthorized, "upload token already used")
	}
	return &claims, nil
}

// Redeem marks the token behind claims as used. Only the first call for a
// token succeeds. Expired entries are pruned on every call.
func (a *Authorizer) Redeem(claims *Claims) error {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	for nonce, exp := range a.used {
		if !now.Before(exp) {
			delete(a.used, nonce)
		}
	}
	if !now.Before(claims.Expires()) {
		return errors.New(errors.ErrCodeUnauthorized, "upload token expired")
	}
	if _, ok := a.used[claims.Nonce]; ok {
		return errors.New(errors.ErrCodeUnauthorized, "upload token already used")
	}
	a.used[claims.Nonce] = claims.Expires()
	return nil
}

// Release makes a redeemed token usable again, for uploads that failed
// before anything was stored.
func (a *Authorizer) Release(claims *Claims) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, claims.Nonce)
}

func (a *Authorizer) sign(claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode token claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + base64.RawURLEncoding.EncodeToString(a.mac(payload)), nil
}

func (a *Authorizer) mac(payload string) []byte {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}

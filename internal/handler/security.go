package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/feast/internal/domain/auth"
)

// APIKeyHeader carries back-office API keys.
const APIKeyHeader = "api_key"

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// SecurityConfig holds authentication secrets.
type SecurityConfig struct {
	// APIKeyPepper is the HMAC key API keys are hashed with before lookup.
	APIKeyPepper []byte
	// JWTSecret verifies HS256 customer tokens issued by the identity service.
	JWTSecret []byte
	// Issuer and Audience are enforced when set.
	Issuer   string
	Audience string
}

// Security authenticates customers by bearer token and admins by API key.
type Security struct {
	apikeys auth.Repository
	cfg     SecurityConfig
	parser  *jwt.Parser
}

// NewSecurity constructs a Security.
func NewSecurity(apikeys auth.Repository, cfg SecurityConfig) *Security {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Security{apikeys: apikeys, cfg: cfg, parser: jwt.NewParser(opts...)}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// the api_keys table.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthenticateAPIKey resolves a raw API key.
func (s *Security) AuthenticateAPIKey(ctx context.Context, key string) (auth.Principal, error) {
	if key == "" {
		return auth.Principal{}, errUnauthorized
	}
	hash := HashAPIKey(s.cfg.APIKeyPepper, key)
	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
		}
		return auth.Principal{}, errUnauthorized
	}
	// Constant-time recheck of the stored hash.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return auth.Principal{}, errUnauthorized
	}
	return auth.Principal{KeyID: info.ID, Scopes: info.Scopes}, nil
}

// AuthenticateToken verifies a customer bearer token. The subject claim is
// the customer id.
func (s *Security) AuthenticateToken(raw string) (auth.Principal, error) {
	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return auth.Principal{}, errors.Wrap(errUnauthorized, err.Error())
	}
	if claims.Subject == "" {
		return auth.Principal{}, errors.Wrap(errUnauthorized, "token has no subject")
	}
	return auth.Principal{CustomerID: claims.Subject}, nil
}

// Customer requires a valid bearer token.
func (s *Security) Customer(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			writeError(w, r, errUnauthorized)
			return
		}
		p, err := s.AuthenticateToken(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, r, err)
			return
		}
		ctx := zctx.With(auth.WithPrincipal(r.Context(), p), zap.String("customer_id", p.CustomerID))
		next(w, r.WithContext(ctx))
	})
}

// Admin requires an API key with the orders:admin scope.
func (s *Security) Admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.AuthenticateAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !p.IsAdmin() {
			writeError(w, r, errForbidden)
			return
		}
		ctx := zctx.With(auth.WithPrincipal(r.Context(), p), zap.String("api_key_id", p.KeyID))
		next(w, r.WithContext(ctx))
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

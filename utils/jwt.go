package utils

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/zakiachsan27/CallExpert-sub000/models"
)

// RedisClient is an optional shared Redis client used for token revocation
// and cross-instance coordination. Nil when REDIS_ADDR is not configured.
var RedisClient *redis.Client

func init() {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return
	}
	opts := &redis.Options{Addr: addr}
	if p := os.Getenv("REDIS_PASS"); p != "" {
		opts.Password = p
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		var dbn int
		_, _ = fmt.Sscanf(dbStr, "%d", &dbn)
		opts.DB = dbn
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(context.Background()).Err(); err != nil {
		fmt.Printf("warning: redis ping failed: %v\n", err)
		// don't fail startup for redis issues; revocation checks are skipped
		return
	}
	RedisClient = rc
}

type contextKey string

const PartyIDKey = contextKey("partyID")
const PartyRoleKey = contextKey("partyRole")
const RequestIDKey = contextKey("requestID")

// GeneratePartyToken issues a short-lived access token carrying the caller's
// identity and side of the marketplace (user or expert).
func GeneratePartyToken(id uint, role models.PartyType, expiry time.Duration) (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", errors.New("JWT_SECRET is not set")
	}
	now := time.Now()
	jti, err := generateJTI(32)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"id":   id,
		"role": string(role),
		"exp":  now.Add(expiry).Unix(),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"jti":  jti,
		"aud":  os.Getenv("JWT_AUD"),
		"iss":  os.Getenv("JWT_ISS"),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// validateAccessToken parses the token, enforcing HS256 and registered claims.
func validateAccessToken(tokenStr string) (jwt.MapClaims, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	token, err := jwt.ParseWithClaims(tokenStr, jwt.MapClaims{}, func(t *jwt.Token) (interface{}, error) {
		// Require exact HS256 algorithm to avoid algorithm confusion.
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now()
	if expRaw, ok := claims["exp"].(float64); ok && now.Unix() > int64(expRaw) {
		return nil, errors.New("token expired")
	}
	if nbfRaw, ok := claims["nbf"].(float64); ok && now.Unix() < int64(nbfRaw) {
		return nil, errors.New("token not yet valid")
	}
	if issEnv := os.Getenv("JWT_ISS"); issEnv != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != issEnv {
			return nil, errors.New("invalid issuer")
		}
	}
	if audEnv := os.Getenv("JWT_AUD"); audEnv != "" {
		if aud, ok := claims["aud"].(string); !ok || aud != audEnv {
			return nil, errors.New("invalid audience")
		}
	}

	// jti revocation: Redis blacklist when configured, written by the auth
	// service on logout/password reset; redis outages never fail auth.
	if jti, ok := claims["jti"].(string); ok && jti != "" && RedisClient != nil {
		res, err := RedisClient.Get(context.Background(), "jwt:blacklist:"+jti).Result()
		if err == nil && res == "1" {
			return nil, errors.New("token revoked")
		}
	}

	return claims, nil
}

// ExtractPartyFromRequest parses the bearer token and returns the caller's
// identity and role. The consultation core trusts this identity; it never
// authenticates beyond the token signature.
func ExtractPartyFromRequest(r *http.Request) (uint, models.PartyType, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return 0, "", errors.New("missing or invalid Authorization header")
	}
	claims, err := validateAccessToken(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
	if err != nil {
		return 0, "", err
	}

	var id uint
	switch v := claims["id"].(type) {
	case float64:
		id = uint(v)
	case int:
		id = uint(v)
	case string:
		var n uint64
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, "", errors.New("invalid token payload")
		}
		id = uint(n)
	default:
		return 0, "", errors.New("invalid token payload")
	}
	if id == 0 {
		return 0, "", errors.New("invalid token payload")
	}

	roleStr, _ := claims["role"].(string)
	role := models.PartyType(roleStr)
	if role != models.PartyUser && role != models.PartyExpert {
		return 0, "", errors.New("invalid party role")
	}
	return id, role, nil
}

// generateJTI creates a URL-safe random identifier used as JWT ID
func generateJTI(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	const hex = "0123456789abcdef"
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = hex[int(b[i])%len(hex)]
	}
	return string(out), nil
}

// GetParty reads the authenticated party injected by the auth middleware.
func GetParty(r *http.Request) (uint, models.PartyType, bool) {
	id, okID := r.Context().Value(PartyIDKey).(uint)
	role, okRole := r.Context().Value(PartyRoleKey).(models.PartyType)
	return id, role, okID && okRole
}

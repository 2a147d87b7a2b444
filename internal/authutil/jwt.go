package authutil

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 7 * 24 * time.Hour

var (
	secretOnce sync.Once // Ensure that the key is only read and initialized once.
	secretKey  []byte
)

// getSecret retrieves the signing key from CHAT_AUTH_SECRET or a development default.
func getSecret() []byte {
	secretOnce.Do(func() {
		key := os.Getenv("CHAT_AUTH_SECRET")
		if key == "" {
			key = "dev-secret-change-me"
		}
		secretKey = []byte(key)
	})
	return secretKey
}

// NewAnonymousID returns a fresh anonymous user id of the form anon_<32 hex>.
func NewAnonymousID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsAnonymousID reports whether id has the anonymous id shape.
func IsAnonymousID(id string) bool {
	if !strings.HasPrefix(id, "anon_") {
		return false
	}
	raw := strings.TrimPrefix(id, "anon_")
	if len(raw) != 32 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// IssueToken returns a signed JWT whose subject is uid.
func IssueToken(uid string) (string, error) {
	if uid == "" {
		return "", errors.New("empty uid")
	}
	claims := jwt.MapClaims{
		"sub":       uid,
		"anonymous": IsAnonymousID(uid),
		"exp":       time.Now().Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSecret())
}

// ValidateToken parses tokenStr, checks the HMAC signature and returns the uid.
func ValidateToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("empty token")
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return getSecret(), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if uid, ok := claims["sub"].(string); ok && uid != "" {
			return uid, nil
		}
	}
	return "", errors.New("invalid token claims")
}

// BearerToken extracts the token from an `Authorization: Bearer <token>` header value.
func BearerToken(h string) string {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

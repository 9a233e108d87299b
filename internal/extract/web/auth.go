// File: internal/extract/web/auth.go
package web

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parityscan/parity-cli/api/schemas"
)

// jwtTTL bounds the validity of tokens minted for a single extraction.
const jwtTTL = 5 * time.Minute

// authHeaders builds the extra HTTP headers for the configured auth mode.
func authHeaders(auth *schemas.AuthConfig) (map[string]interface{}, error) {
	switch auth.Mode {
	case "basic":
		if auth.Username == "" {
			return nil, fmt.Errorf("basic auth requires a username")
		}
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		return map[string]interface{}{"Authorization": "Basic " + cred}, nil

	case "bearer":
		if auth.Token == "" {
			return nil, fmt.Errorf("bearer auth requires a token")
		}
		return map[string]interface{}{"Authorization": "Bearer " + auth.Token}, nil

	case "jwt":
		if auth.Secret == "" {
			return nil, fmt.Errorf("jwt auth requires a signing secret")
		}
		now := time.Now()
		claims := jwt.RegisteredClaims{
			Subject:   auth.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtTTL)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(auth.Secret))
		if err != nil {
			return nil, fmt.Errorf("failed to sign token: %w", err)
		}
		return map[string]interface{}{"Authorization": "Bearer " + token}, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", auth.Mode)
	}
}

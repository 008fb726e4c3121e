package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid viewer token")

// ViewerClaims are the claims the relay reads from a viewer token.
type ViewerClaims struct {
	UserID       string `json:"user_id"`
	OpaqueUserID string `json:"opaque_user_id"`
	Role         string `json:"role"`
	ChannelID    string `json:"channel_id"`
	Exp          int64  `json:"exp"`
}

// DecodeSecret decodes the base64 shared secret as it is configured.
func DecodeSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode token secret: %w", err)
	}
	return secret, nil
}

// VerifyViewerToken checks an HS256 token against secret and returns its
// claims. Tokens without a user id are refused since nothing could be
// attributed to them.
func VerifyViewerToken(token string, secret []byte, now time.Time) (ViewerClaims, error) {
	if len(secret) == 0 {
		return ViewerClaims{}, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ViewerClaims{}, fmt.Errorf("%w: format", ErrInvalidToken)
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ViewerClaims{}, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ViewerClaims{}, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ViewerClaims{}, fmt.Errorf("%w: signature: %v", ErrInvalidToken, err)
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return ViewerClaims{}, fmt.Errorf("%w: header: %v", ErrInvalidToken, err)
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return ViewerClaims{}, fmt.Errorf("%w: unsupported alg %q", ErrInvalidToken, header.Alg)
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ViewerClaims{}, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	var claims ViewerClaims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return ViewerClaims{}, fmt.Errorf("%w: claims: %v", ErrInvalidToken, err)
	}
	if claims.Exp != 0 && now.Unix() >= claims.Exp {
		return ViewerClaims{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if claims.UserID == "" {
		return ViewerClaims{}, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return claims, nil
}

package superset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// Tokens are the credentials produced by a Superset login
type Tokens struct {
	// Access is the token exactly as Superset issued it
	Access string
	// Signed carries Access's claims, sub as a string, re-signed with the local secret
	Signed  string
	Refresh string
	Subject string
}

type loginRequest struct {
	Password string `json:"password"`
	Provider string `json:"provider"`
	Refresh  bool   `json:"refresh"`
	Username string `json:"username"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticate logs in and re-signs the issued access token.
// Failures wrap types.ErrAuth and no tokens are returned.
func (c *Client) Authenticate(ctx context.Context) (Tokens, error) {
	var res loginResponse
	err := c.do(ctx, http.MethodPost, c.endpoint(loginPath, nil), nil, loginRequest{
		Password: c.cfg.Password,
		Provider: c.cfg.Provider,
		Refresh:  true,
		Username: c.cfg.Username,
	}, &res)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: login: %w", types.ErrAuth, err)
	}
	if res.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: login response has no access_token", types.ErrAuth)
	}

	signed, subject, err := ResignToken(res.AccessToken, c.cfg.Secret)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %w", types.ErrAuth, err)
	}

	log.WithField("subject", subject).Info("Authenticated with Superset")
	return Tokens{
		Access:  res.AccessToken,
		Signed:  signed,
		Refresh: res.RefreshToken,
		Subject: subject,
	}, nil
}

// ResignToken decodes token without verifying its signature, coerces the sub
// claim to a string and signs the claims with secret using HS256. The token is
// trusted because it was just issued to us by Superset.
func ResignToken(token string, secret []byte) (signed, subject string, err error) {
	if len(secret) == 0 {
		return "", "", fmt.Errorf("signing secret is empty")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithJSONNumber())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", "", fmt.Errorf("decode access token: %w", err)
	}

	subject, err = CoerceSubject(claims)
	if err != nil {
		return "", "", err
	}

	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, subject, nil
}

// CoerceSubject rewrites claims["sub"] as a string. Superset issues numeric
// user ids; JWT validators expect a string subject.
func CoerceSubject(claims jwt.MapClaims) (string, error) {
	raw, ok := claims["sub"]
	if !ok || raw == nil {
		return "", fmt.Errorf("access token has no sub claim")
	}

	var sub string
	switch v := raw.(type) {
	case string:
		sub = v
	case json.Number:
		sub = v.String()
	case float64:
		sub = strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		sub = strconv.FormatInt(v, 10)
	case int:
		sub = strconv.Itoa(v)
	case bool:
		sub = strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("unsupported sub claim %T", raw)
		}
		sub = string(b)
	}

	claims["sub"] = sub
	return sub, nil
}

// VerifyToken validates an HS256 token signed with secret and returns its claims
func VerifyToken(token string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

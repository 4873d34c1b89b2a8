package tokenservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaymux/llmgate/internal/credential"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// VertexRefresher builds a Refresher for a ServiceAccountCred: it signs an
// RS256 JWT bound to audience and the requested scope, then exchanges it
// for an access token via the JWT-bearer grant
// ("Service accounts sign a JWT (RS256) bound to an audience and exchange
// it at the token endpoint").
func VertexRefresher(httpClient *http.Client, cred *credential.Credential, scope string) Refresher {
	return func(ctx context.Context) (Token, error) {
		signed, err := signServiceAccountJWT(cred, scope)
		if err != nil {
			return Token{}, err
		}
		return exchangeJWTForToken(ctx, httpClient, signed)
	}
}

func signServiceAccountJWT(cred *credential.Credential, scope string) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cred.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("tokenservice: parse service account key for %s: %w", cred.ID, err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": cred.ClientEmail,
		"sub": cred.ClientEmail,
		"aud": googleTokenURL,
		"scope": scope,
		"iat": now.Unix(),
		"exp": now.Add(1 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = cred.KeyID
	return token.SignedString(key)
}

func exchangeJWTForToken(ctx context.Context, httpClient *http.Client, signedJWT string) (Token, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion": {signedJWT},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("tokenservice: token exchange request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("tokenservice: token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn int `json:"expires_in"`
	}
	if err = json.Unmarshal(body, &decoded); err != nil {
		return Token{}, fmt.Errorf("tokenservice: decode token response: %w", err)
	}
	return Token{
		AccessToken: decoded.AccessToken,
		Expiry: time.Now().Add(time.Duration(decoded.ExpiresIn) * time.Second),
	}, nil
}

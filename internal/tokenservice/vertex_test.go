package tokenservice

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymux/llmgate/internal/credential"
)

func generateTestPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func TestSignServiceAccountJWT_ProducesVerifiableClaims(t *testing.T) {
	keyPEM := generateTestPrivateKeyPEM(t)
	cred := &credential.Credential{
		ID:          "sa-1",
		ClientEmail: "svc@project.iam.gserviceaccount.com",
		PrivateKey:  keyPEM,
		KeyID:       "key-123",
	}

	signed, err := signServiceAccountJWT(cred, "https://www.googleapis.com/auth/cloud-platform")
	require.NoError(t, err)

	publicKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(keyPEM))
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(*jwt.Token) (any, error) { return &publicKey.PublicKey, nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "svc@project.iam.gserviceaccount.com", claims["iss"])
	assert.Equal(t, googleTokenURL, claims["aud"])
	assert.Equal(t, "key-123", parsed.Header["kid"])
}

func TestSignServiceAccountJWT_InvalidPEMReturnsError(t *testing.T) {
	cred := &credential.Credential{PrivateKey: "not a pem key"}
	_, err := signServiceAccountJWT(cred, "scope")
	assert.Error(t, err)
}

// redirectTransport rewrites every outbound request to target, so tests can
// exercise exchangeJWTForToken without reaching the real Google endpoint.
type redirectTransport struct {
	target *url.URL
}

func (r redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestExchangeJWTForToken_ParsesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.Equal(t, "signed-jwt", r.Form.Get("assertion"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","expires_in":3600}`))
	}))
	defer srv.Close()

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: redirectTransport{target: target}}

	tok, err := exchangeJWTForToken(context.Background(), client, "signed-jwt")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok.AccessToken)
	assert.True(t, tok.Expiry.After(time.Now()))
}

func TestExchangeJWTForToken_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: redirectTransport{target: target}}

	_, err = exchangeJWTForToken(context.Background(), client, "signed-jwt")
	assert.Error(t, err)
}

func TestOAuthRefresher_NoRefreshTokenReturnsErrorWithoutNetworkCall(t *testing.T) {
	cred := &credential.Credential{ID: "oauth-1"}
	refresher := OAuthRefresher(cred, "https://example.com/token")

	_, err := refresher(context.Background())
	assert.Error(t, err)
}

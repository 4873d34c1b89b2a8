package httpadapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinURL_HandlesTrailingSlashEitherSide(t *testing.T) {
	got, err := JoinURL("https://api.example.com/v1/", "/messages")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/messages", got)

	got, err = JoinURL("https://api.example.com/v1", "messages")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/messages", got)
}

func TestJoinURL_InvalidBaseReturnsError(t *testing.T) {
	_, err := JoinURL(":\\not a url", "messages")
	assert.Error(t, err)
}

func TestHasZSTDEncoding(t *testing.T) {
	assert.False(t, hasZSTDEncoding(""))
	assert.False(t, hasZSTDEncoding("gzip"))
	assert.True(t, hasZSTDEncoding("zstd"))
	assert.True(t, hasZSTDEncoding("gzip, zstd"))
	assert.True(t, hasZSTDEncoding(" ZSTD "))
}

func TestSend_RoundTripsQueryHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("stream"))
		assert.Equal(t, "token123", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := New("", 0)
	resp, err := a.Send(context.Background(), "cred-1", Request{
		Method:  http.MethodPost,
		BaseURL: srv.URL,
		Path:    "/v1/messages",
		Query:   map[string][]string{"stream": {"true"}},
		Headers: http.Header{"Authorization": []string{"token123"}},
		Body:    strings.NewReader("hello"),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(out))
}

func TestSend_DecodesZSTDResponseBody(t *testing.T) {
	var compressed []byte
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed = enc.EncodeAll([]byte("decompressed payload"), nil)
	require.NoError(t, enc.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(compressed)
	}))
	defer srv.Close()

	a := New("", 0)
	resp, err := a.Send(context.Background(), "cred-1", Request{
		Method:  http.MethodGet,
		BaseURL: srv.URL,
		Path:    "/",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "decompressed payload", string(out))
}

func TestSend_UsesRoundTripperFromContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var used bool
	rt := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		used = true
		return http.DefaultTransport.RoundTrip(req)
	})

	a := New("", 0)
	ctx := WithRoundTripper(context.Background(), rt)
	resp, err := a.Send(ctx, "cred-1", Request{Method: http.MethodGet, BaseURL: srv.URL, Path: "/"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, used)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestLimiterFor_ZeroRPSReturnsNilLimiter(t *testing.T) {
	a := New("", 0)
	assert.Nil(t, a.limiterFor("cred-1"))
}

func TestLimiterFor_ReusesLimiterPerCredential(t *testing.T) {
	a := New("", 10)
	l1 := a.limiterFor("cred-1")
	l2 := a.limiterFor("cred-1")
	l3 := a.limiterFor("cred-2")

	require.NotNil(t, l1)
	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, l3)
}

func TestSend_RateLimiterBlocksBurstBeyondCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New("", 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Send(context.Background(), "cred-1", Request{Method: http.MethodGet, BaseURL: srv.URL, Path: "/"})
	require.NoError(t, err)

	_, err = a.Send(ctx, "cred-1", Request{Method: http.MethodGet, BaseURL: srv.URL, Path: "/"})
	assert.Error(t, err)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

package tokenservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_RefreshesWhenCacheEmpty(t *testing.T) {
	c := NewCache()
	var calls int32
	refresh := func(ctx context.Context) (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	}

	tok, err := c.Acquire(context.Background(), "cred-1", refresh)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, calls)
}

func TestAcquire_ReturnsCachedTokenWithoutRefreshing(t *testing.T) {
	c := NewCache()
	var calls int32
	refresh := func(ctx context.Context) (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	}

	_, err := c.Acquire(context.Background(), "cred-1", refresh)
	require.NoError(t, err)
	tok, err := c.Acquire(context.Background(), "cred-1", refresh)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, calls, "second Acquire must reuse the cached token")
}

func TestAcquire_RefreshesWhenTokenNearExpiry(t *testing.T) {
	c := NewCache()
	c.tokens["cred-1"] = Token{AccessToken: "stale", Expiry: time.Now().Add(30 * time.Second)}

	refresh := func(ctx context.Context) (Token, error) {
		return Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
	}

	tok, err := c.Acquire(context.Background(), "cred-1", refresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}

func TestAcquire_FailedRefreshLeavesStaleEntryUntouched(t *testing.T) {
	c := NewCache()
	c.tokens["cred-1"] = Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Second)}

	refresh := func(ctx context.Context) (Token, error) {
		return Token{}, errors.New("upstream unavailable")
	}

	_, err := c.Acquire(context.Background(), "cred-1", refresh)
	assert.Error(t, err)

	c.mu.RLock()
	entry := c.tokens["cred-1"]
	c.mu.RUnlock()
	assert.Equal(t, "stale", entry.AccessToken, "a failed refresh must not poison the cache")
}

func TestAcquire_CollapsesConcurrentRefreshesIntoOneCall(t *testing.T) {
	c := NewCache()
	var calls int32
	release := make(chan struct{})
	refresh := func(ctx context.Context) (Token, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			tok, err := c.Acquire(context.Background(), "cred-1", refresh)
			assert.NoError(t, err)
			results[idx] = tok
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls, "only one refresh should execute for concurrent callers of the same credential")
	for _, r := range results {
		assert.Equal(t, "tok-1", r)
	}
}

func TestInvalidate_ForcesNextAcquireToRefresh(t *testing.T) {
	c := NewCache()
	c.tokens["cred-1"] = Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}

	c.Invalidate("cred-1")

	var calls int32
	refresh := func(ctx context.Context) (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{AccessToken: "tok-2", Expiry: time.Now().Add(time.Hour)}, nil
	}
	tok, err := c.Acquire(context.Background(), "cred-1", refresh)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 1, calls)
}

func TestToken_ValidAtRequiresSixtySecondMargin(t *testing.T) {
	now := time.Now()
	tok := Token{AccessToken: "x", Expiry: now.Add(30 * time.Second)}
	assert.False(t, tok.validAt(now), "a token expiring within 60s must be considered invalid")

	tok.Expiry = now.Add(2 * time.Minute)
	assert.True(t, tok.validAt(now))
}

func TestToken_ValidAtRequiresNonEmptyAccessToken(t *testing.T) {
	tok := Token{Expiry: time.Now().Add(time.Hour)}
	assert.False(t, tok.validAt(time.Now()))
}

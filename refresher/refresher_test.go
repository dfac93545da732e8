package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvdsl/solid-oidc-client-go/oidc"
	"github.com/uvdsl/solid-oidc-client-go/storage"
)

// testGrant is a GrantClient double. When gate is non-nil, RenewTokens blocks
// on it before returning, which lets tests hold a refresh in flight.
type testGrant struct {
	mu     sync.Mutex
	calls  int
	tokens *oidc.TokenDetails
	err    error
	gate   chan struct{}
}

func (g *testGrant) RenewTokens(ctx context.Context, store storage.Store) (*oidc.TokenDetails, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.gate != nil {
		<-g.gate
	}
	return g.tokens, g.err
}

func (g *testGrant) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// testBroadcast collects broadcast messages on a buffered channel.
func testBroadcast() (func(Message), chan Message) {
	ch := make(chan Message, 64)
	return func(m Message) { ch <- m }, ch
}

func waitForMessage(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a coordinator message")
		return nil
	}
}

func TestNewRefresher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	broadcast, _ := testBroadcast()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), broadcast)
		require.NoError(err)
		require.NotNil(r)
		assert.Nil(r.Tokens())
		assert.False(r.TimersRunning())
	})
	t.Run("nil-grants", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r, err := NewRefresher(ctx, nil, storage.NewMemory(), broadcast)
		require.Error(err)
		assert.Nil(r)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("nil-broadcast", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), nil)
		require.Error(err)
		assert.Nil(r)
		assert.ErrorIs(err, ErrNilParameter)
	})
}

func TestRefresher_Schedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("broadcasts-and-arms", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		broadcast, ch := testBroadcast()
		r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), broadcast)
		require.NoError(err)
		defer r.Stop()

		tokens := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
		r.Schedule(tokens)

		update, ok := waitForMessage(t, ch).(*TokenUpdate)
		require.True(ok)
		assert.Equal(tokens, update.Tokens)
		assert.Equal(tokens, r.Tokens())
		assert.True(r.TimersRunning())
	})
	t.Run("reschedule-replaces", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		broadcast, ch := testBroadcast()
		r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), broadcast)
		require.NoError(err)
		defer r.Stop()

		first := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
		second := oidc.TestTokenDetails(t, "https://alice.example/profile#me", 2*time.Hour)
		r.Schedule(first)
		waitForMessage(t, ch)
		r.Schedule(second)
		waitForMessage(t, ch)

		assert.Equal(second, r.Tokens())
		assert.True(r.TimersRunning())
	})
}

func TestRefresher_Refresh_CachedTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	grant := &testGrant{}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	tokens := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
	r.Schedule(tokens)
	waitForMessage(t, ch)

	var replies []Message
	r.Refresh(func(m Message) { replies = append(replies, m) })

	// the cached tokens go to the requesting client only
	require.Len(replies, 1)
	update, ok := replies[0].(*TokenUpdate)
	require.True(ok)
	assert.Equal(tokens, update.Tokens)
	assert.Zero(grant.callCount())
	assert.Empty(ch)
}

func TestRefresher_Refresh_ExpiredCache(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	// freeze the clock exactly at the token's exp: zero buffer, so this
	// already counts as expired
	now := time.Unix(time.Now().Unix(), 0)
	fresh := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
	grant := &testGrant{tokens: fresh}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast, WithNow(func() time.Time { return now }))
	require.NoError(err)
	defer r.Stop()

	stale := &oidc.TokenDetails{
		AccessToken: oidc.TestAccessToken(t, "https://alice.example/profile#me", now),
		TokenType:   "DPoP",
		ExpiresIn:   time.Hour,
	}
	r.Schedule(stale)
	waitForMessage(t, ch)

	r.Refresh(nil)

	update, ok := waitForMessage(t, ch).(*TokenUpdate)
	require.True(ok)
	assert.Equal(fresh, update.Tokens)
	assert.Equal(fresh, r.Tokens())
	assert.Equal(1, grant.callCount())
}

func TestRefresher_Refresh_Failure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	grant := &testGrant{err: errors.New("token endpoint unreachable")}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	refreshErr, ok := waitForMessageAfter(t, ch, func() { r.Refresh(nil) }).(*RefreshError)
	require.True(ok)
	assert.Equal("token endpoint unreachable", refreshErr.Reason)
	assert.Equal(1, grant.callCount())
}

func TestRefresher_Refresh_FailureKeepsTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Unix(time.Now().Unix(), 0)
	grant := &testGrant{err: errors.New("token endpoint unreachable")}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast, WithNow(func() time.Time { return now }))
	require.NoError(err)
	defer r.Stop()

	stale := &oidc.TokenDetails{
		AccessToken: oidc.TestAccessToken(t, "https://alice.example/profile#me", now),
		TokenType:   "DPoP",
		ExpiresIn:   time.Hour,
	}
	r.Schedule(stale)
	waitForMessage(t, ch)

	r.Refresh(nil)
	_, ok := waitForMessage(t, ch).(*RefreshError)
	require.True(ok)

	// a failed refresh never clears the cache or the hard-expiration timer
	assert.Equal(stale, r.Tokens())
	assert.True(r.TimersRunning())
}

func TestRefresher_Refresh_Dedup(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	fresh := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
	gate := make(chan struct{})
	grant := &testGrant{tokens: fresh, gate: gate}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Refresh(nil)
		}()
	}
	// let the callers pile up on the in-flight refresh before releasing it
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	update, ok := waitForMessage(t, ch).(*TokenUpdate)
	require.True(ok)
	assert.Equal(fresh, update.Tokens)
	assert.Equal(1, grant.callCount())
	assert.Empty(ch)
}

func TestRefresher_Stop(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), broadcast)
	require.NoError(err)

	// safe with nothing scheduled
	r.Stop()
	assert.False(r.TimersRunning())

	r.Schedule(oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour))
	waitForMessage(t, ch)
	require.NotNil(r.Tokens())

	r.Stop()
	assert.Nil(r.Tokens())
	assert.False(r.TimersRunning())

	// idempotent
	r.Stop()
	assert.Nil(r.Tokens())
}

func TestRefresher_AutoRefresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	fresh := oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Hour)
	grant := &testGrant{tokens: fresh}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	// shrink the thresholds so the 80% refresh timer is armed and fires
	// within the test
	r.minRefreshDelay = 10 * time.Millisecond
	r.logoutGrace = 0

	r.Schedule(oidc.TestTokenDetails(t, "https://alice.example/profile#me", 200*time.Millisecond))
	waitForMessage(t, ch)

	update, ok := waitForMessage(t, ch).(*TokenUpdate)
	require.True(ok)
	assert.Equal(fresh, update.Tokens)
	assert.Equal(1, grant.callCount())
}

func TestRefresher_ShortLifetimeSkipsRefreshTimer(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	grant := &testGrant{}
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, grant, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	// 80% of 10s is below the 30s minimum: hard expiration only
	r.Schedule(oidc.TestTokenDetails(t, "https://alice.example/profile#me", 10*time.Second))
	waitForMessage(t, ch)

	r.mu.Lock()
	refreshTimer, logoutTimer := r.refreshTimer, r.logoutTimer
	r.mu.Unlock()
	assert.Nil(refreshTimer)
	assert.NotNil(logoutTimer)
	assert.Zero(grant.callCount())
}

func TestRefresher_Expire(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	broadcast, ch := testBroadcast()
	r, err := NewRefresher(ctx, &testGrant{}, storage.NewMemory(), broadcast)
	require.NoError(err)
	defer r.Stop()

	// lifetime below the logout grace: the hard-expiration timer has a
	// negative delay and fires immediately
	r.Schedule(oidc.TestTokenDetails(t, "https://alice.example/profile#me", time.Second))
	waitForMessage(t, ch)

	_, ok := waitForMessage(t, ch).(*Expired)
	require.True(ok)
	assert.Nil(r.Tokens())
	assert.False(r.TimersRunning())
}

// waitForMessageAfter runs trigger and returns the next broadcast message.
func waitForMessageAfter(t *testing.T, ch chan Message, trigger func()) Message {
	t.Helper()
	trigger()
	return waitForMessage(t, ch)
}

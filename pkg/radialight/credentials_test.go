package radialight

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenManager_Token(t *testing.T) {
	f := newFakeServer()
	_, tokens := newTestClient(t, f)
	ctx := t.Context()

	token, err := tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.Expiry, time.Minute)

	// token is cached
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.AccessToken)
	assert.Equal(t, 1, f.Exchanges())

	// within the safety margin: refresh
	tokens.now = func() time.Time { return time.Now().Add(time.Hour - 30*time.Second) }
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token.AccessToken)
	assert.Equal(t, 2, f.Exchanges())

	status := tokens.Status()
	assert.Equal(t, 2, status.Exchanges)
}

func TestTokenManager_Token_Expiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn string
		want      time.Duration
	}{
		{name: "string", expiresIn: "120", want: 2 * time.Minute},
		{name: "missing", expiresIn: "", want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeServer()
			f.expiresIn = tt.expiresIn
			_, tokens := newTestClient(t, f)

			token, err := tokens.Token(t.Context())
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(tt.want), token.Expiry, 10*time.Second)
		})
	}
}

func TestTokenManager_Token_Failures(t *testing.T) {
	tests := []struct {
		name        string
		tokenStatus int
		want        error
	}{
		{name: "bad request", tokenStatus: http.StatusBadRequest, want: ErrRefreshRejected},
		{name: "forbidden", tokenStatus: http.StatusForbidden, want: ErrRefreshRejected},
		{name: "throttled", tokenStatus: http.StatusTooManyRequests, want: ErrRefreshTransient},
		{name: "server error", tokenStatus: http.StatusBadGateway, want: ErrRefreshTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeServer()
			f.tokenStatus = tt.tokenStatus
			_, tokens := newTestClient(t, f)

			_, err := tokens.Token(t.Context())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "TOKEN_EXPIRED")
			assert.NotContains(t, err.Error(), testRefreshToken)
			assert.NotContains(t, err.Error(), testAPIKey)
		})
	}
}

func TestTokenManager_Token_NetworkError(t *testing.T) {
	tokens := NewTokenManager(testAPIKey, testRefreshToken, slog.New(slog.DiscardHandler))
	tokens.TokenURL = "http://127.0.0.1:1/token"

	_, err := tokens.Token(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshTransient)
	assert.True(t, IsTransient(err))
	assert.NotContains(t, err.Error(), testAPIKey)
}

func TestTokenManager_RotatedRefreshToken(t *testing.T) {
	f := newFakeServer()
	f.rotate = "rotated-refresh-token"
	_, tokens := newTestClient(t, f)

	_, err := tokens.ForceRefresh(t.Context())
	require.NoError(t, err)
	_, err = tokens.ForceRefresh(t.Context())
	require.NoError(t, err)

	assert.Equal(t, []string{testRefreshToken, "rotated-refresh-token"}, f.RefreshTokens())
}

func TestTokenManager_ConcurrentRefresh(t *testing.T) {
	f := newFakeServer()
	_, tokens := newTestClient(t, f)

	// hold the server, so all callers pile up behind the same exchange
	f.lock.Lock()
	var wg sync.WaitGroup
	const callers = 10
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := tokens.Token(t.Context())
			if assert.NoError(t, err) {
				results[i] = token.AccessToken
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	f.lock.Unlock()
	wg.Wait()

	assert.Equal(t, 1, f.Exchanges())
	for _, result := range results {
		assert.Equal(t, "token-1", result)
	}
}

func TestTokenManager_Invalidate(t *testing.T) {
	f := newFakeServer()
	_, tokens := newTestClient(t, f)

	token, err := tokens.Token(t.Context())
	require.NoError(t, err)
	require.Equal(t, "token-1", token.AccessToken)

	// a token that is no longer current doesn't drop the current one
	tokens.Invalidate(&oauth2.Token{AccessToken: "token-0"})
	tokens.Invalidate(nil)
	token, err = tokens.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.AccessToken)
	assert.Equal(t, 1, f.Exchanges())

	tokens.Invalidate(token)
	token, err = tokens.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token.AccessToken)
	assert.Equal(t, 2, f.Exchanges())
}

func TestTokenManager_NeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	f := newFakeServer()
	f.rotate = "rotated-refresh-token"
	_, tokens := newTestClient(t, f)
	tokens.logger = logger

	_, err := tokens.Token(t.Context())
	require.NoError(t, err)
	f.lock.Lock()
	f.tokenStatus = http.StatusBadRequest
	f.lock.Unlock()
	_, err = tokens.ForceRefresh(t.Context())
	require.Error(t, err)
	logger.Info("token manager", "tokens", tokens)

	output := buf.String()
	assert.Contains(t, output, RedactedPlaceholder)
	for _, secret := range []string{testRefreshToken, "rotated-refresh-token", testAPIKey, "token-1"} {
		assert.NotContains(t, output, secret)
	}
}

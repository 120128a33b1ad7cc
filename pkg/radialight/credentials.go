package radialight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenURL = "https://securetoken.googleapis.com/v1/token"

	// tokens are refreshed this long before they expire
	tokenSafetyMargin    = 60 * time.Second
	defaultTokenLifetime = time.Hour
	maxErrorBodySize     = 4096
)

// TokenManager exchanges a long-lived refresh token for short-lived bearer tokens.
//
// The refresh token is set at construction time and is only replaced when the token
// endpoint rotates it. It is never logged. Concurrent callers needing a new token
// share a single exchange.
type TokenManager struct {
	HTTPClient *http.Client
	TokenURL   string
	apiKey     string
	logger     *slog.Logger
	now        func() time.Time
	group      singleflight.Group
	lock       sync.Mutex
	refresh    string
	token      *oauth2.Token
	exchanges  int
}

// TokenStatus describes the current bearer token, without disclosing it.
type TokenStatus struct {
	Valid     bool      `json:"valid"`
	Expiry    time.Time `json:"expiry"`
	Exchanges int       `json:"exchanges"`
}

func NewTokenManager(apiKey, refreshToken string, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		HTTPClient: http.DefaultClient,
		TokenURL:   DefaultTokenURL,
		apiKey:     apiKey,
		refresh:    refreshToken,
		logger:     logger,
		now:        time.Now,
	}
}

// Token returns a bearer token that is valid for at least another minute, performing a token exchange if needed.
func (m *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	if token := m.current(); m.usable(token) {
		return token, nil
	}
	return m.exchange(ctx, false)
}

// ForceRefresh performs a token exchange, even if the current token is still valid.
func (m *TokenManager) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	return m.exchange(ctx, true)
}

// Invalidate drops the current token if it is the rejected token. The next call to Token will then perform a token exchange.
// If the current token has already been replaced, Invalidate does nothing.
func (m *TokenManager) Invalidate(rejected *oauth2.Token) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.token != nil && rejected != nil && m.token.AccessToken == rejected.AccessToken {
		m.token = nil
	}
}

func (m *TokenManager) Status() TokenStatus {
	m.lock.Lock()
	defer m.lock.Unlock()
	status := TokenStatus{Exchanges: m.exchanges}
	if m.token != nil {
		status.Valid = m.usable(m.token)
		status.Expiry = m.token.Expiry
	}
	return status
}

func (m *TokenManager) LogValue() slog.Value {
	status := m.Status()
	return slog.GroupValue(
		slog.String("refresh_token", RedactedPlaceholder),
		slog.Bool("valid", status.Valid),
		slog.Time("expiry", status.Expiry),
	)
}

func (m *TokenManager) usable(token *oauth2.Token) bool {
	return token != nil && token.AccessToken != "" && m.now().Add(tokenSafetyMargin).Before(token.Expiry)
}

func (m *TokenManager) current() *oauth2.Token {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.token
}

// exchange performs a token exchange, shared by all concurrent callers. Unless force is set, a token stored by
// an exchange that completed in the meantime is returned instead.
func (m *TokenManager) exchange(ctx context.Context, force bool) (*oauth2.Token, error) {
	key := "token"
	if force {
		key = "force"
	}
	token, err, shared := m.group.Do(key, func() (any, error) {
		if token := m.current(); !force && m.usable(token) {
			return token, nil
		}
		return m.doExchange(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("shared token exchange")
	}
	return token.(*oauth2.Token), nil
}

type tokenResponse struct {
	IDToken      string         `json:"id_token"`
	ExpiresIn    expiresIn      `json:"expires_in"`
	RefreshToken string         `json:"refresh_token"`
	Error        *responseError `json:"error,omitempty"`
}

type responseError struct {
	Message string `json:"message"`
}

// expiresIn accepts both "3600" and 3600
type expiresIn time.Duration

func (e *expiresIn) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*e = expiresIn(time.Duration(seconds * float64(time.Second)))
	return nil
}

func (m *TokenManager) doExchange(ctx context.Context) (*oauth2.Token, error) {
	m.lock.Lock()
	refreshToken := m.refresh
	m.exchanges++
	m.lock.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	target := m.TokenURL + "?key=" + url.QueryEscape(m.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Kind: RefreshRejected, Err: errors.New("invalid token URL")}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := m.now()
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return nil, &AuthError{Kind: RefreshTransient, Err: sanitizeURLError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		authErr := AuthError{Kind: RefreshRejected, StatusCode: resp.StatusCode, Err: readErrorBody(resp.Body, refreshToken, m.apiKey)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			authErr.Kind = RefreshTransient
		}
		m.logger.Warn("token exchange failed", "status", resp.StatusCode, "kind", authErr.Kind.String())
		return nil, &authErr
	}

	var response tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &AuthError{Kind: RefreshTransient, StatusCode: resp.StatusCode, Err: &DataError{Kind: MalformedPayload, Err: err}}
	}
	if response.IDToken == "" {
		return nil, &AuthError{Kind: RefreshTransient, StatusCode: resp.StatusCode, Err: &DataError{Kind: MalformedPayload, Reason: "no id_token in response"}}
	}

	lifetime := time.Duration(response.ExpiresIn)
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	token := &oauth2.Token{
		AccessToken: response.IDToken,
		TokenType:   "Bearer",
		Expiry:      start.Add(lifetime),
	}

	m.lock.Lock()
	m.token = token
	rotated := response.RefreshToken != "" && response.RefreshToken != m.refresh
	if rotated {
		m.refresh = response.RefreshToken
	}
	m.lock.Unlock()

	m.logger.Debug("token exchanged", "expiry", token.Expiry, "rotated", rotated)
	return token, nil
}

// sanitizeURLError removes the api key from the URL reported by http.Client errors.
func sanitizeURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: RedactURL(urlErr.URL), Err: urlErr.Err}
	}
	return err
}

// readErrorBody returns the error reported by the token endpoint, with any secrets removed.
func readErrorBody(r io.Reader, secrets ...string) error {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	text := strings.TrimSpace(string(body))
	var response tokenResponse
	if json.Unmarshal(body, &response) == nil && response.Error != nil && response.Error.Message != "" {
		text = response.Error.Message
	}
	if text == "" {
		return nil
	}
	for _, secret := range secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, RedactedPlaceholder)
		}
	}
	return errors.New(Redact(text))
}

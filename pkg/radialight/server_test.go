package radialight

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	testAPIKey       = "test-api-key"
	testRefreshToken = "test-refresh-token"
)

// fakeServer emulates both the token endpoint and the Radialight API.
type fakeServer struct {
	lock sync.Mutex
	// tokenStatus, if set, is returned by the token endpoint instead of a token
	tokenStatus int
	// expiresIn is returned by the token endpoint
	expiresIn string
	// rotate, if set, makes the token endpoint return a new refresh token
	rotate string
	// rejected holds the bearer tokens that the API rejects with 401
	rejected map[string]bool
	// rejectAll makes the API reject all bearer tokens
	rejectAll bool
	// apiStatus, if set, is returned by the API
	apiStatus int
	// usage, if set, overrides the usage response
	usage string

	exchanges     int
	refreshTokens []string
	apiCalls      []string
	bodies        []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{expiresIn: "3600", rejected: make(map[string]bool)}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if r.URL.Path == "/token" {
		f.serveToken(w, r)
		return
	}

	auth := r.Header.Get("Authorization")
	f.apiCalls = append(f.apiCalls, r.Method+" "+r.URL.RequestURI()+" "+auth)
	if f.rejectAll || f.rejected[strings.TrimPrefix(auth, "Bearer ")] || auth == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if f.apiStatus != 0 {
		http.Error(w, "failed", f.apiStatus)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		_, _ = w.Write([]byte(zonesResponseBody))
	case r.Method == http.MethodGet && r.URL.Path == "/usage":
		body := usageResponseBody
		if f.usage != "" {
			body = f.usage
		}
		_, _ = w.Write([]byte(body))
	case r.Method == http.MethodPost && (strings.HasPrefix(r.URL.Path, "/zone/") || strings.HasPrefix(r.URL.Path, "/product/")):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		payload, _ := json.Marshal(body)
		f.bodies = append(f.bodies, string(payload))
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) serveToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != testAPIKey {
		http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusBadRequest)
		return
	}
	_ = r.ParseForm()
	f.refreshTokens = append(f.refreshTokens, r.PostForm.Get("refresh_token"))
	if f.tokenStatus != 0 {
		http.Error(w, `{"error":{"message":"TOKEN_EXPIRED"}}`, f.tokenStatus)
		return
	}
	f.exchanges++
	response := map[string]string{
		"id_token":   fmt.Sprintf("token-%d", f.exchanges),
		"expires_in": f.expiresIn,
	}
	if f.rotate != "" {
		response["refresh_token"] = f.rotate
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (f *fakeServer) Exchanges() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.exchanges
}

func (f *fakeServer) APICalls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.apiCalls...)
}

func (f *fakeServer) Bodies() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.bodies...)
}

func (f *fakeServer) RefreshTokens() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.refreshTokens...)
}

func newTestClient(t *testing.T, f *fakeServer) (*Client, *TokenManager) {
	t.Helper()
	s := httptest.NewServer(f)
	t.Cleanup(s.Close)

	tokens := NewTokenManager(testAPIKey, testRefreshToken, slog.New(slog.DiscardHandler))
	tokens.TokenURL = s.URL + "/token"
	tokens.HTTPClient = s.Client()
	c := NewClient(tokens, s.Client(), slog.New(slog.DiscardHandler))
	c.URL = s.URL
	return c, tokens
}

const zonesResponseBody = `{
  "zones": [
    {
      "id": "zone-1",
      "name": "Living room",
      "program": {"id": "program-1"},
      "mode": 1,
      "window": 0,
      "pir": 1,
      "lock": 0,
      "tECO": 160,
      "tComfort": 210,
      "override": {"active": false},
      "lastWeekUsage": 12.5,
      "products": [
        {"id": "product-1", "name": "left", "isOffline": false, "detectedTemperature": 200, "isWarming": true, "isLedOn": true},
        {"id": "product-2", "name": "right", "isOffline": false, "detectedTemperature": 210, "isInOverride": true},
        {"id": "product-3", "name": "spare", "detectedTemperature": 150},
        {"name": "no id"}
      ]
    },
    {
      "id": "zone-2",
      "name": "Bedroom",
      "products": []
    },
    {
      "name": "no id"
    }
  ]
}`

const usageResponseBody = `{
  "values": [
    {"date": "2026-02-02T01:00:00.000Z", "usage": 20},
    {"date": "2026-02-02T00:00:00.000Z", "usage": 10},
    {"date": "2026-02-02T02:00:00", "usage": "30"},
    {"date": "not-a-date", "usage": 5},
    {"usage": 5},
    {"date": "2026-02-02T03:00:00Z", "usage": null},
    {"date": "2026-02-02T04:00:00Z", "usage": "abc"}
  ],
  "comparisonValues": [],
  "dateStart": "2026-02-02T00:00:00Z",
  "dateEnd": "2026-02-02T23:59:59Z"
}`

// Package radialight provides a client for the Radialight cloud API.
package radialight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

const DefaultURL = "https://myradialight-fe-prod.opengate.it"

// TokenProvider hands out bearer tokens for the Radialight API. TokenManager implements this interface.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Invalidate(rejected *oauth2.Token)
}

// Client calls the Radialight API.
//
// If a call fails with 401, Client invalidates the current bearer token, forces a token exchange
// and retries the call once. Client does not retry any other failures: it's up to the caller to decide
// whether to retry, based on the returned FetchError's Kind.
type Client struct {
	HTTPClient *http.Client
	URL        string
	Tokens     TokenProvider
	logger     *slog.Logger
}

func NewClient(tokens TokenProvider, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		HTTPClient: httpClient,
		URL:        DefaultURL,
		Tokens:     tokens,
		logger:     logger,
	}
}

// GetZones returns all zones, and their products, for the account.
func (c *Client) GetZones(ctx context.Context) (Listing, error) {
	var response zonesResponse
	if err := c.call(ctx, http.MethodGet, "/zones", nil, &response); err != nil {
		return Listing{}, err
	}
	return normalizeListing(response), nil
}

// GetUsage returns the usage series selected by req.
func (c *Client) GetUsage(ctx context.Context, req UsageRequest) (UsageSeries, error) {
	var response usageResponse
	if err := c.call(ctx, http.MethodGet, req.path(), nil, &response); err != nil {
		return UsageSeries{}, err
	}
	return parseUsage(response), nil
}

// SetZone sends the full configuration for a zone.
func (c *Client) SetZone(ctx context.Context, zoneID string, settings ZoneSettings) error {
	return c.call(ctx, http.MethodPost, "/zone/"+zoneID, settings, nil)
}

// SetProductLight switches a product's LED on or off.
func (c *Client) SetProductLight(ctx context.Context, productID string, on bool) error {
	return c.call(ctx, http.MethodPost, "/product/"+productID, struct {
		Light bool `json:"light"`
	}{Light: on}, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, response any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return tokenError(path, err)
	}
	err = c.do(ctx, token, method, path, body, response)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusUnauthorized {
		// token exchange failed. no point in retrying
		return err
	}

	// concurrent calls rejected with the same token share one exchange
	c.logger.Debug("call unauthorized. refreshing token", "path", path)
	c.Tokens.Invalidate(token)
	if token, err = c.Tokens.Token(ctx); err != nil {
		return tokenError(path, err)
	}
	return c.do(ctx, token, method, path, body, response)
}

func (c *Client) do(ctx context.Context, token *oauth2.Token, method, path string, body, response any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &FetchError{Kind: Rejected, Endpoint: path, Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reqBody)
	if err != nil {
		return &FetchError{Kind: Rejected, Endpoint: path, Err: err}
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &FetchError{Kind: Transient, Endpoint: path, Err: sanitizeURLError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if kind, ok := statusKind(resp.StatusCode); !ok {
		return &FetchError{Kind: kind, StatusCode: resp.StatusCode, Endpoint: path, Err: readErrorBody(resp.Body, token.AccessToken)}
	}

	if response == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(response); err != nil {
		return &FetchError{Kind: Rejected, StatusCode: resp.StatusCode, Endpoint: path, Err: &DataError{Kind: MalformedPayload, Err: err}}
	}
	return nil
}

func statusKind(statusCode int) (FetchErrorKind, bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return 0, true
	case statusCode == http.StatusUnauthorized:
		return Unauthorized, false
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return Transient, false
	default:
		return Rejected, false
	}
}

// tokenError maps a failed token exchange to a FetchError: a rejected refresh token is unauthorized, anything else is transient.
func tokenError(path string, err error) error {
	kind := Transient
	if errors.Is(err, ErrRefreshRejected) {
		kind = Unauthorized
	}
	return &FetchError{Kind: kind, Endpoint: path, Err: err}
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/token-vault/internal/domain"
)

// Client encapsulates outbound HTTP calls to the identity provider's token,
// introspection, and revocation endpoints.
type Client interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderTokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error)
	Introspect(ctx context.Context, token string) (*domain.Introspection, error)
	Revoke(ctx context.Context, token string) error
}

// Endpoints holds the provider URLs the client talks to.
type Endpoints struct {
	AuthURL       string
	TokenURL      string
	IntrospectURL string
	RevokeURL     string
}

// RealmEndpoints derives the standard OpenID Connect endpoint layout from a
// realm base URL, e.g. https://idp/realms/acme.
func RealmEndpoints(realmURL string) Endpoints {
	base := strings.TrimRight(realmURL, "/") + "/protocol/openid-connect"
	return Endpoints{
		AuthURL:       base + "/auth",
		TokenURL:      base + "/token",
		IntrospectURL: base + "/token/introspect",
		RevokeURL:     base + "/revoke",
	}
}

// HTTPClient is the default Client implementation.
type HTTPClient struct {
	endpoints    Endpoints
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default provider client. A nil http.Client
// gets a bounded-timeout default; every upstream call must time out.
func NewHTTPClient(endpoints Endpoints, clientID, clientSecret string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		endpoints:    endpoints,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   client,
	}
}

// Endpoints exposes the configured provider URLs.
func (c *HTTPClient) Endpoints() Endpoints {
	return c.endpoints
}

// ExchangeCode performs the authorization-code grant.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	return c.tokenGrant(ctx, data, domain.ErrUpstreamExchange)
}

// Refresh performs the refresh-token grant against a stored refresh or
// offline token value.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.tokenGrant(ctx, data, domain.ErrUpstreamTokenRejected)
}

func (c *HTTPClient) tokenGrant(ctx context.Context, data url.Values, rejection error) (*domain.ProviderTokenResponse, error) {
	data.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	status, body, err := c.postForm(ctx, c.endpoints.TokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrUpstreamUnavailable, status)
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: status=%d", rejection, status)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	token := &domain.ProviderTokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
		SessionState: stringValue(raw["session_state"]),
		ExpiresIn:    int64Value(raw["expires_in"]),
		Raw:          raw,
	}
	return token, nil
}

// Introspect reports whether a token is currently active.
func (c *HTTPClient) Introspect(ctx context.Context, token string) (*domain.Introspection, error) {
	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	status, body, err := c.postForm(ctx, c.endpoints.IntrospectURL, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrUpstreamUnavailable, status)
	}
	if status >= 300 {
		return nil, fmt.Errorf("introspection failed: status=%d", status)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode introspection: %w", err)
	}

	result := &domain.Introspection{
		Active:       boolValue(raw["active"]),
		Subject:      stringValue(raw["sub"]),
		Scope:        stringValue(raw["scope"]),
		ClientID:     stringValue(raw["client_id"]),
		Username:     stringValue(raw["username"]),
		ExpiresAt:    int64Value(raw["exp"]),
		IssuedAt:     int64Value(raw["iat"]),
		SessionState: stringValue(coalesce(raw["sid"], raw["session_state"])),
	}
	return result, nil
}

// Revoke invalidates a refresh or offline token at the provider (RFC 7009).
func (c *HTTPClient) Revoke(ctx context.Context, token string) error {
	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "refresh_token")
	data.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	status, _, err := c.postForm(ctx, c.endpoints.RevokeURL, data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if status >= 500 {
		return fmt.Errorf("%w: status=%d", domain.ErrUpstreamUnavailable, status)
	}
	if status >= 300 {
		return fmt.Errorf("%w: status=%d", domain.ErrUpstreamTokenRejected, status)
	}
	return nil
}

func (c *HTTPClient) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func boolValue(input any) bool {
	b, ok := input.(bool)
	return ok && b
}

func coalesce(values ...any) any {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return v
		}
	}
	return nil
}
